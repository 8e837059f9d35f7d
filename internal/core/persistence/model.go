package persistence

// Record はドキュメントストアに保存するフラットなレコード
type Record map[string]any

// Document はインジェスチョンパイプラインが生成するドキュメント
type Document struct {
	UUID      string         `json:"doc_uuid"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Extension string         `json:"extension"`
	FileSize  int            `json:"fileSize"`
	Labels    []string       `json:"labels"`
	Source    string         `json:"source"`
	Meta      map[string]any `json:"meta,omitempty"`
	Metadata  string         `json:"metadata"`
	Chunks    []Chunk        `json:"chunks"`
}

// Chunk はドキュメント内の連続した部分範囲
type Chunk struct {
	ChunkID               int       `json:"chunk_id"`
	DocUUID               string    `json:"doc_uuid,omitempty"` // 空の場合は親ドキュメントのUUIDを使う
	Title                 string    `json:"title,omitempty"`
	Content               string    `json:"content"`
	ContentWithoutOverlap *string   `json:"content_without_overlap,omitempty"`
	StartI                int       `json:"start_i"`
	EndI                  int       `json:"end_i"`
	PCA                   []float64 `json:"pca,omitempty"`
	Labels                []string  `json:"labels"`

	// Topic は分類用の任意フィールド。TopicRecord 生成時に既定値で補完される
	Topic *TopicFields `json:"topic,omitempty"`
}

// TopicFields はチャンクに付与される分類情報（すべて任意）
type TopicFields struct {
	Intent         *string  `json:"intent,omitempty"`
	Context        *string  `json:"context,omitempty"`
	Examples       []string `json:"examples,omitempty"`
	Instructions   []string `json:"instructions,omitempty"`
	PromptExamples []string `json:"promptExamples,omitempty"`
	PromptID       *int     `json:"promptId,omitempty"`
	Test           []string `json:"test,omitempty"`
	Color          *string  `json:"color,omitempty"`
}

// TopicRecord はチャンクの監査・検索用の非正規化プロジェクション。
// 正本ではない。
type TopicRecord struct {
	ID             string   `json:"_id"`
	Intent         string   `json:"intent"`
	Context        string   `json:"context"`
	Examples       []string `json:"examples"`
	Instructions   []string `json:"instructions"`
	PromptExamples []string `json:"promptExamples"`
	PromptID       int      `json:"promptId"`
	Test           []string `json:"test"`
	Color          string   `json:"color"`

	Content               string    `json:"content"`
	ChunkID               int       `json:"chunk_id"`
	DocUUID               string    `json:"doc_uuid"`
	Title                 string    `json:"title"`
	PCA                   []float64 `json:"pca"`
	StartI                int       `json:"start_i"`
	EndI                  int       `json:"end_i"`
	ContentWithoutOverlap string    `json:"content_without_overlap"`
	Labels                []string  `json:"labels"`
}

// 分類フィールドの既定値
const (
	DefaultPromptID = -1
)

// ToRecord は保存用のレコードに変換します
func (t TopicRecord) ToRecord() Record {
	return Record{
		"_id":                     t.ID,
		"intent":                  t.Intent,
		"context":                 t.Context,
		"examples":                t.Examples,
		"instructions":            t.Instructions,
		"promptExamples":          t.PromptExamples,
		"promptId":                t.PromptID,
		"test":                    t.Test,
		"color":                   t.Color,
		"content":                 t.Content,
		"chunk_id":                t.ChunkID,
		"doc_uuid":                t.DocUUID,
		"title":                   t.Title,
		"pca":                     t.PCA,
		"start_i":                 t.StartI,
		"end_i":                   t.EndI,
		"content_without_overlap": t.ContentWithoutOverlap,
		"labels":                  t.Labels,
	}
}

// WriteFailure は一括挿入中に失敗した1レコードを表す
type WriteFailure struct {
	Index     int    // 入力シーケンス内の位置
	Record    Record // 失敗したレコード
	Code      int
	Reason    string
	Duplicate bool // 識別子の衝突による失敗
}

// InsertOutcome は一括挿入の結果
type InsertOutcome struct {
	InsertedCount int
	Failures      []WriteFailure
}

// FailedCount は失敗したレコード数を返します
func (o *InsertOutcome) FailedCount() int {
	if o == nil {
		return 0
	}
	return len(o.Failures)
}

// PersistResult は Service.InsertDocuments の結果
type PersistResult struct {
	Documents InsertOutcome
	Topics    InsertOutcome
	Skipped   []*NormalizationError
}
