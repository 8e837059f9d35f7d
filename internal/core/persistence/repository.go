package persistence

import "context"

// Gateway はドキュメントストアへの一括書き込みを抽象化します
type Gateway interface {
	// InsertDocuments はレコードを順序なしで一括挿入します。
	// 個々のレコードの失敗は InsertOutcome.Failures に集約され、エラーは返しません。
	// 接続レベルの障害のみ *ConnectionError として返します。
	InsertDocuments(ctx context.Context, collection string, records []Record) (*InsertOutcome, error)
}

// AuditLogger は主経路の書き込みと並行して診断イベントを記録します。
// 実装は失敗を呼び出し元へ伝播してはなりません。
type AuditLogger interface {
	LogText(ctx context.Context, text string)
}
