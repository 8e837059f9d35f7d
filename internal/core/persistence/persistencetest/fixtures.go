package persistencetest

import (
	"fmt"

	"github.com/jinford/khstore/internal/core/persistence"
)

// TestDocument は n 個のチャンクを持つテスト用ドキュメントを作成します
func TestDocument(docUUID string, n int) persistence.Document {
	chunks := make([]persistence.Chunk, 0, n)
	offset := 0
	for i := range n {
		content := fmt.Sprintf("chunk %d of %s", i, docUUID)
		chunks = append(chunks, persistence.Chunk{
			ChunkID: i,
			Content: content,
			StartI:  offset,
			EndI:    offset + len(content),
			Labels:  []string{"Document"},
		})
		offset += len(content)
	}

	return persistence.Document{
		UUID:      docUUID,
		Title:     docUUID + ".md",
		Content:   "content of " + docUUID,
		Extension: "md",
		FileSize:  offset,
		Labels:    []string{"Document"},
		Source:    "upload",
		Metadata:  "",
		Chunks:    chunks,
	}
}
