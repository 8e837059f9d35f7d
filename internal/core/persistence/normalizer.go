package persistence

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Normalize はドキュメントをフラットなレコードに変換します。
// チャンクは chunk_id の昇順で "chunks" に埋め込まれます。
func Normalize(doc Document) (Record, error) {
	docUUID := strings.TrimSpace(doc.UUID)
	if docUUID == "" {
		return nil, &NormalizationError{Title: doc.Title, Field: "doc_uuid", Err: ErrMissingField}
	}

	chunks, err := sortedChunks(docUUID, doc.Chunks)
	if err != nil {
		return nil, err
	}

	chunkRecords := make([]Record, 0, len(chunks))
	for _, c := range chunks {
		chunkRecords = append(chunkRecords, chunkRecord(docUUID, c))
	}

	record := Record{
		"_id":       docUUID,
		"doc_uuid":  docUUID,
		"title":     doc.Title,
		"content":   doc.Content,
		"extension": doc.Extension,
		"fileSize":  doc.FileSize,
		"labels":    nonNil(doc.Labels),
		"source":    doc.Source,
		"metadata":  doc.Metadata,
		"chunks":    chunkRecords,
	}
	if doc.Meta != nil {
		record["meta"] = doc.Meta
	} else {
		record["meta"] = map[string]any{}
	}

	return record, nil
}

// NormalizedBatch は NormalizeAll の結果。Records と Accepted は同じ順序で対応する。
type NormalizedBatch struct {
	Records  []Record
	Accepted []Document
	Skipped  []*NormalizationError
}

// NormalizeAll は複数ドキュメントを正規化します。
// 失敗したドキュメントはスキップされ、Skipped に入ります。
func NormalizeAll(docs []Document) *NormalizedBatch {
	batch := &NormalizedBatch{
		Records:  make([]Record, 0, len(docs)),
		Accepted: make([]Document, 0, len(docs)),
	}

	for _, doc := range docs {
		record, err := Normalize(doc)
		if err != nil {
			batch.Skipped = append(batch.Skipped, asNormalizationError(doc, err))
			continue
		}
		batch.Records = append(batch.Records, record)
		batch.Accepted = append(batch.Accepted, doc)
	}

	return batch
}

func asNormalizationError(doc Document, err error) *NormalizationError {
	var normErr *NormalizationError
	if errors.As(err, &normErr) {
		return normErr
	}
	return &NormalizationError{DocUUID: doc.UUID, Title: doc.Title, Field: "document", Err: err}
}

// ToTopicRecords はチャンクを TopicRecord に変換します。
// 欠けている分類フィールドは既定値（文字列は""、IDは-1、リストは空）で補完します。
func ToTopicRecords(chunks []Chunk) []TopicRecord {
	topics := make([]TopicRecord, 0, len(chunks))
	for _, c := range chunks {
		topic := TopicRecord{
			ID:                    TopicID(c.DocUUID, c.ChunkID),
			Intent:                "",
			Context:               "",
			Examples:              []string{},
			Instructions:          []string{},
			PromptExamples:        []string{},
			PromptID:              DefaultPromptID,
			Test:                  []string{},
			Color:                 "",
			Content:               c.Content,
			ChunkID:               c.ChunkID,
			DocUUID:               c.DocUUID,
			Title:                 c.Title,
			PCA:                   nonNilFloats(c.PCA),
			StartI:                c.StartI,
			EndI:                  c.EndI,
			ContentWithoutOverlap: deref(c.ContentWithoutOverlap),
			Labels:                nonNil(c.Labels),
		}

		if f := c.Topic; f != nil {
			topic.Intent = deref(f.Intent)
			topic.Context = deref(f.Context)
			topic.Color = deref(f.Color)
			topic.Examples = nonNil(f.Examples)
			topic.Instructions = nonNil(f.Instructions)
			topic.PromptExamples = nonNil(f.PromptExamples)
			topic.Test = nonNil(f.Test)
			if f.PromptID != nil {
				topic.PromptID = *f.PromptID
			}
		}

		topics = append(topics, topic)
	}
	return topics
}

// DocumentChunks はドキュメントのチャンクを doc_uuid を補完したうえで返します
func DocumentChunks(doc Document) []Chunk {
	docUUID := strings.TrimSpace(doc.UUID)
	chunks := make([]Chunk, 0, len(doc.Chunks))
	for _, c := range doc.Chunks {
		if c.DocUUID == "" {
			c.DocUUID = docUUID
		}
		chunks = append(chunks, c)
	}
	slices.SortStableFunc(chunks, compareChunkID)
	return chunks
}

// TopicID はトピックレコードの決定的な識別子を返します
func TopicID(docUUID string, chunkID int) string {
	return docUUID + ":" + strconv.Itoa(chunkID)
}

// sortedChunks はチャンクを chunk_id 順に並べ、不変条件を検証します
func sortedChunks(docUUID string, chunks []Chunk) ([]Chunk, error) {
	sorted := slices.Clone(chunks)
	slices.SortStableFunc(sorted, compareChunkID)

	for i, c := range sorted {
		if c.StartI > c.EndI {
			return nil, &NormalizationError{
				DocUUID: docUUID,
				Field:   "chunks",
				Err:     fmt.Errorf("%w: chunk %d has start_i %d > end_i %d", ErrInvalidChunk, c.ChunkID, c.StartI, c.EndI),
			}
		}
		if c.DocUUID != "" && c.DocUUID != docUUID {
			return nil, &NormalizationError{
				DocUUID: docUUID,
				Field:   "chunks",
				Err:     fmt.Errorf("%w: chunk %d belongs to document %s", ErrInvalidChunk, c.ChunkID, c.DocUUID),
			}
		}
		if i == 0 {
			if c.ChunkID != 0 {
				return nil, &NormalizationError{
					DocUUID: docUUID,
					Field:   "chunks",
					Err:     fmt.Errorf("%w: chunk_id must start at 0, got %d", ErrInvalidChunk, c.ChunkID),
				}
			}
			continue
		}
		prev := sorted[i-1].ChunkID
		switch {
		case c.ChunkID == prev:
			return nil, &NormalizationError{
				DocUUID: docUUID,
				Field:   "chunks",
				Err:     fmt.Errorf("%w: duplicate chunk_id %d", ErrInvalidChunk, c.ChunkID),
			}
		case c.ChunkID != prev+1:
			return nil, &NormalizationError{
				DocUUID: docUUID,
				Field:   "chunks",
				Err:     fmt.Errorf("%w: chunk_id gap between %d and %d", ErrInvalidChunk, prev, c.ChunkID),
			}
		}
	}

	return sorted, nil
}

func compareChunkID(a, b Chunk) int {
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

func chunkRecord(docUUID string, c Chunk) Record {
	record := Record{
		"chunk_id":                c.ChunkID,
		"doc_uuid":                docUUID,
		"title":                   c.Title,
		"content":                 c.Content,
		"content_without_overlap": deref(c.ContentWithoutOverlap),
		"start_i":                 c.StartI,
		"end_i":                   c.EndI,
		"labels":                  nonNil(c.Labels),
	}
	if c.PCA != nil {
		record["pca"] = c.PCA
	}
	return record
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilFloats(s []float64) []float64 {
	if s == nil {
		return []float64{}
	}
	return s
}
