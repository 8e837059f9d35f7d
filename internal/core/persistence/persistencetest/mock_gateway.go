package persistencetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinford/khstore/internal/core/persistence"
)

// MockGateway はテスト用のモックGatewayです
type MockGateway struct {
	InsertDocumentsFunc func(ctx context.Context, collection string, records []persistence.Record) (*persistence.InsertOutcome, error)
}

func (m *MockGateway) InsertDocuments(ctx context.Context, collection string, records []persistence.Record) (*persistence.InsertOutcome, error) {
	if m.InsertDocumentsFunc != nil {
		return m.InsertDocumentsFunc(ctx, collection, records)
	}
	return &persistence.InsertOutcome{InsertedCount: len(records)}, nil
}

// duplicateKeyCode は MongoDB の duplicate key エラーコード
const duplicateKeyCode = 11000

// MemoryGateway は "_id" の一意制約を模したインメモリのGatewayです
type MemoryGateway struct {
	mu          sync.Mutex
	collections map[string]map[any]persistence.Record
	calls       int
}

// NewMemoryGateway は空のMemoryGatewayを作成します
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{collections: make(map[string]map[any]persistence.Record)}
}

func (g *MemoryGateway) InsertDocuments(_ context.Context, collection string, records []persistence.Record) (*persistence.InsertOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	outcome := &persistence.InsertOutcome{}
	if len(records) == 0 {
		return outcome, nil
	}

	coll, ok := g.collections[collection]
	if !ok {
		coll = make(map[any]persistence.Record)
		g.collections[collection] = coll
	}

	for i, record := range records {
		id, hasID := record["_id"]
		if !hasID {
			id = fmt.Sprintf("%s-%d", collection, len(coll))
		}
		if _, exists := coll[id]; exists {
			outcome.Failures = append(outcome.Failures, persistence.WriteFailure{
				Index:     i,
				Record:    record,
				Code:      duplicateKeyCode,
				Reason:    fmt.Sprintf("E11000 duplicate key error collection: %s dup key: { _id: %v }", collection, id),
				Duplicate: true,
			})
			continue
		}
		coll[id] = record
		outcome.InsertedCount++
	}

	return outcome, nil
}

// Records はコレクションに保存されたレコードを返します
func (g *MemoryGateway) Records(collection string) []persistence.Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	records := make([]persistence.Record, 0, len(g.collections[collection]))
	for _, r := range g.collections[collection] {
		records = append(records, r)
	}
	return records
}

// Get は "_id" でレコードを取得します
func (g *MemoryGateway) Get(collection string, id any) (persistence.Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.collections[collection][id]
	return r, ok
}

// Calls は InsertDocuments の呼び出し回数を返します
func (g *MemoryGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// MockAuditLogger は記録されたテキストを保持するモックです
type MockAuditLogger struct {
	mu    sync.Mutex
	Texts []string
}

func (m *MockAuditLogger) LogText(_ context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
}
