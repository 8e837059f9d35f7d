package upload

// Credentials はアップロード元から渡される接続情報
type Credentials struct {
	Deployment string `json:"deployment"`
	URL        string `json:"url"`
	Key        string `json:"key"`
}

// BatchPayload は分割アップロードの1フラグメント
type BatchPayload struct {
	FileID      string      `json:"fileID"`
	Order       int         `json:"order"` // 0始まりの位置
	Chunk       string      `json:"chunk"`
	IsLastChunk bool        `json:"isLastChunk"`
	Total       int         `json:"total"` // 期待するフラグメント数。0 は不明
	Credentials Credentials `json:"credentials"`
}

// FileConfig はアップロードされたファイルの静的な記述。作成後は変更しない。
type FileConfig struct {
	FileID    string         `json:"fileID"`
	Filename  string         `json:"filename"`
	IsURL     bool           `json:"isURL"`
	Overwrite bool           `json:"overwrite"`
	Extension string         `json:"extension"`
	Source    string         `json:"source"`
	Content   string         `json:"content"`
	FileSize  int            `json:"file_size"`
	Metadata  map[string]any `json:"metadata"`
}

// Status はフラグメント取り込み後の転送状態
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
)

// IngestResult は Tracker.Ingest の結果
type IngestResult struct {
	FileID   string
	Status   Status
	Received int // 受信済みの異なる order の数
	Total    int // 既知の総数（不明なら 0）

	// Artifact は Status が StatusComplete のときのみ設定される
	Artifact []byte
}

// Complete は転送が完了したかどうかを返します
func (r *IngestResult) Complete() bool {
	return r != nil && r.Status == StatusComplete
}

// TransferInfo は収集中の転送の概要
type TransferInfo struct {
	FileID    string
	Received  int
	Total     int
	LastOrder int // 終端フラグメントの order。未受信なら -1
}
