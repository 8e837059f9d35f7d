package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField は必須フィールドが欠けている場合に返されます
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidChunk はチャンクの不変条件（ID の一意性・連続性、オフセット）が崩れている場合に返されます
	ErrInvalidChunk = errors.New("invalid chunk")
)

// NormalizationError はドキュメント単位の正規化エラー。
// バッチ全体は中断せず、該当ドキュメントのみスキップされる。
type NormalizationError struct {
	DocUUID string
	Title   string
	Field   string
	Err     error
}

func (e *NormalizationError) Error() string {
	if e.DocUUID == "" {
		return fmt.Sprintf("normalize: %s: %s (title=%q)", e.Field, e.Err, e.Title)
	}
	return fmt.Sprintf("normalize: %s: %s (doc_uuid=%s)", e.Field, e.Err, e.DocUUID)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// ConnectionError はストアへの接続レベルの障害。呼び出し全体を中断する。
// 自動リトライはしない。
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError は新しいConnectionErrorを作成します
func NewConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}

// IsConnectionError は err が ConnectionError を含むかどうかを判定します
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
