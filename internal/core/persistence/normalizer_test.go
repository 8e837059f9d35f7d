package persistence_test

import (
	"math"
	"testing"

	"github.com/jinford/khstore/internal/core/persistence"
	testutil "github.com/jinford/khstore/internal/core/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ChunksInOrder(t *testing.T) {
	doc := testutil.TestDocument("d1", 2)
	// 入力順を逆にしても chunk_id 順に並ぶこと
	doc.Chunks[0], doc.Chunks[1] = doc.Chunks[1], doc.Chunks[0]

	record, err := persistence.Normalize(doc)
	require.NoError(t, err)

	assert.Equal(t, "d1", record["_id"])
	assert.Equal(t, "d1", record["doc_uuid"])
	assert.Equal(t, "d1.md", record["title"])

	chunks, ok := record["chunks"].([]persistence.Record)
	require.True(t, ok)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0]["chunk_id"])
	assert.Equal(t, 1, chunks[1]["chunk_id"])
	assert.Equal(t, "d1", chunks[0]["doc_uuid"])
	assert.Equal(t, "chunk 0 of d1", chunks[0]["content"])
}

func TestNormalize_MissingDocUUID(t *testing.T) {
	doc := testutil.TestDocument("", 1)
	doc.Title = "orphan.txt"

	record, err := persistence.Normalize(doc)
	require.Error(t, err)
	assert.Nil(t, record)
	assert.ErrorIs(t, err, persistence.ErrMissingField)

	var normErr *persistence.NormalizationError
	require.ErrorAs(t, err, &normErr)
	assert.Equal(t, "doc_uuid", normErr.Field)
	assert.Equal(t, "orphan.txt", normErr.Title)
}

func TestNormalize_BlankDocUUID(t *testing.T) {
	doc := testutil.TestDocument("   ", 1)

	_, err := persistence.Normalize(doc)
	assert.ErrorIs(t, err, persistence.ErrMissingField)
}

func TestNormalize_InvalidChunks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*persistence.Document)
	}{
		{
			name:   "duplicate chunk_id",
			mutate: func(d *persistence.Document) { d.Chunks[1].ChunkID = 0 },
		},
		{
			name:   "gap in chunk_id",
			mutate: func(d *persistence.Document) { d.Chunks[2].ChunkID = 5 },
		},
		{
			name: "chunk_id not starting at zero",
			mutate: func(d *persistence.Document) {
				for i := range d.Chunks {
					d.Chunks[i].ChunkID += 5
				}
			},
		},
		{
			name: "negative chunk_id",
			mutate: func(d *persistence.Document) {
				for i := range d.Chunks {
					d.Chunks[i].ChunkID--
				}
			},
		},
		{
			name: "extreme chunk_id values",
			mutate: func(d *persistence.Document) {
				d.Chunks[1].ChunkID = math.MaxInt
				d.Chunks[2].ChunkID = math.MinInt
			},
		},
		{
			name:   "start after end",
			mutate: func(d *persistence.Document) { d.Chunks[0].StartI = d.Chunks[0].EndI + 1 },
		},
		{
			name:   "chunk from another document",
			mutate: func(d *persistence.Document) { d.Chunks[1].DocUUID = "other" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := testutil.TestDocument("d1", 3)
			tt.mutate(&doc)

			_, err := persistence.Normalize(doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, persistence.ErrInvalidChunk)
		})
	}
}

func TestNormalize_EmptyChunksAndNilFields(t *testing.T) {
	doc := persistence.Document{UUID: "d-empty"}

	record, err := persistence.Normalize(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{}, record["labels"])
	assert.Equal(t, map[string]any{}, record["meta"])
	assert.Empty(t, record["chunks"])
}

func TestNormalize_DoesNotReorderInput(t *testing.T) {
	doc := testutil.TestDocument("d1", 3)
	doc.Chunks[0], doc.Chunks[2] = doc.Chunks[2], doc.Chunks[0]

	_, err := persistence.Normalize(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Chunks[0].ChunkID)
}

func TestNormalizeAll_SkipsInvalid(t *testing.T) {
	docs := []persistence.Document{
		testutil.TestDocument("d1", 1),
		testutil.TestDocument("", 1),
		testutil.TestDocument("d3", 2),
	}

	batch := persistence.NormalizeAll(docs)
	require.Len(t, batch.Records, 2)
	require.Len(t, batch.Accepted, 2)
	require.Len(t, batch.Skipped, 1)
	assert.Equal(t, "d1", batch.Records[0]["doc_uuid"])
	assert.Equal(t, "d3", batch.Records[1]["doc_uuid"])
	assert.Equal(t, "d1", batch.Accepted[0].UUID)
	assert.Equal(t, "d3", batch.Accepted[1].UUID)
	assert.ErrorIs(t, batch.Skipped[0], persistence.ErrMissingField)
}

func TestToTopicRecords_Defaults(t *testing.T) {
	doc := testutil.TestDocument("d1", 2)

	topics := persistence.ToTopicRecords(persistence.DocumentChunks(doc))
	require.Len(t, topics, 2)

	for i, topic := range topics {
		assert.Equal(t, i, topic.ChunkID)
		assert.Equal(t, "d1", topic.DocUUID)
		assert.Equal(t, persistence.TopicID("d1", i), topic.ID)
		assert.Equal(t, "", topic.Intent)
		assert.Equal(t, "", topic.Context)
		assert.Equal(t, "", topic.Color)
		assert.Equal(t, -1, topic.PromptID)
		assert.NotNil(t, topic.Examples)
		assert.Empty(t, topic.Examples)
		assert.NotNil(t, topic.Instructions)
		assert.NotNil(t, topic.PromptExamples)
		assert.NotNil(t, topic.Test)
		assert.NotNil(t, topic.PCA)
		assert.Equal(t, []string{"Document"}, topic.Labels)
	}
}

func TestToTopicRecords_ClassificationFields(t *testing.T) {
	intent := "billing"
	promptID := 7
	color := "#ff0000"
	overlap := "without overlap"
	chunk := persistence.Chunk{
		ChunkID:               3,
		DocUUID:               "d9",
		Content:               "text",
		ContentWithoutOverlap: &overlap,
		PCA:                   []float64{0.1, 0.2},
		Topic: &persistence.TopicFields{
			Intent:   &intent,
			PromptID: &promptID,
			Color:    &color,
			Examples: []string{"how do I pay?"},
		},
	}

	topics := persistence.ToTopicRecords([]persistence.Chunk{chunk})
	require.Len(t, topics, 1)

	topic := topics[0]
	assert.Equal(t, "billing", topic.Intent)
	assert.Equal(t, 7, topic.PromptID)
	assert.Equal(t, "#ff0000", topic.Color)
	assert.Equal(t, []string{"how do I pay?"}, topic.Examples)
	assert.Equal(t, []string{}, topic.Instructions)
	assert.Equal(t, "", topic.Context)
	assert.Equal(t, "without overlap", topic.ContentWithoutOverlap)
	assert.Equal(t, []float64{0.1, 0.2}, topic.PCA)
	assert.Equal(t, []string{}, topic.Labels)

	record := topic.ToRecord()
	assert.Equal(t, "d9:3", record["_id"])
	assert.Equal(t, 7, record["promptId"])
	assert.Equal(t, "billing", record["intent"])
}

func TestDocumentChunks_InheritsDocUUID(t *testing.T) {
	doc := testutil.TestDocument("d1", 3)
	doc.Chunks[0], doc.Chunks[2] = doc.Chunks[2], doc.Chunks[0]

	chunks := persistence.DocumentChunks(doc)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkID)
		assert.Equal(t, "d1", c.DocUUID)
	}
	// 元のドキュメントは変更しない
	assert.Empty(t, doc.Chunks[0].DocUUID)
}
