package upload

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidFragment はフラグメントが転送の状態と矛盾する場合に返されます
	ErrInvalidFragment = errors.New("invalid fragment")

	// ErrTransferCancelled は転送が明示的に取り消された場合に使われます
	ErrTransferCancelled = errors.New("transfer cancelled")

	// ErrTrackerClosed は Close 後に Ingest が呼ばれた場合に返されます
	ErrTrackerClosed = errors.New("tracker closed")
)

// TimeoutError は無通信期間を超えて破棄された転送を表します
type TimeoutError struct {
	FileID   string
	Received int
	Total    int
	Idle     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reassembly timeout: fileID=%s received=%d total=%d idle=%s", e.FileID, e.Received, e.Total, e.Idle)
}

func invalidFragment(fileID string, format string, args ...any) error {
	return fmt.Errorf("%w: fileID=%s: %s", ErrInvalidFragment, fileID, fmt.Sprintf(format, args...))
}
