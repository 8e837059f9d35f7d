package upload

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultInactivityWindow = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultShards           = 32
)

// Reporter は完了しなかった転送を通知する先。
// 呼び出し時に Tracker のロックは保持されていない。
type Reporter interface {
	TransferExpired(ctx context.Context, timeout *TimeoutError)
	TransferCancelled(ctx context.Context, info TransferInfo)
}

// transfer は1つの fileID に対する収集中の状態
type transfer struct {
	fragments map[int]string
	total     int // 0 は不明
	lastOrder int // -1 は終端フラグメント未受信
	maxOrder  int
	lastSeen  time.Time
}

func newTransfer() *transfer {
	return &transfer{
		fragments: make(map[int]string),
		lastOrder: -1,
		maxOrder:  -1,
	}
}

// expected は完了に必要なフラグメント数を返す。未確定なら 0。
func (tr *transfer) expected() int {
	if tr.total > 0 {
		return tr.total
	}
	if tr.lastOrder >= 0 {
		return tr.lastOrder + 1
	}
	return 0
}

// complete は 0..expected-1 がすべて揃っているかどうかを返す。
// order は取り込み時に expected 未満であることを検証済みなので、件数の一致で網羅性が決まる。
func (tr *transfer) complete() bool {
	n := tr.expected()
	return n > 0 && len(tr.fragments) == n
}

func (tr *transfer) assemble() []byte {
	n := tr.expected()
	size := 0
	for _, f := range tr.fragments {
		size += len(f)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for i := range n {
		buf.WriteString(tr.fragments[i])
	}
	return buf.Bytes()
}

func (tr *transfer) info(fileID string) TransferInfo {
	return TransferInfo{
		FileID:    fileID,
		Received:  len(tr.fragments),
		Total:     tr.total,
		LastOrder: tr.lastOrder,
	}
}

type shard struct {
	mu        sync.Mutex
	transfers map[string]*transfer
}

// Tracker は fileID ごとにフラグメントを order 順に蓄積し、揃った時点で再構成する。
// fileID はシャードに振り分けられ、異なるシャードの転送は互いにロックを競合しない。
type Tracker struct {
	shards        []*shard
	window        time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	reporter      Reporter
	logger        *slog.Logger
	closed        atomic.Bool
}

type trackerOptions struct {
	window        time.Duration
	sweepInterval time.Duration
	shards        int
	now           func() time.Time
	reporter      Reporter
	logger        *slog.Logger
}

// TrackerOption は Tracker のオプション設定
type TrackerOption func(*trackerOptions)

// WithInactivityWindow は無通信で転送を破棄するまでの期間を設定する
func WithInactivityWindow(d time.Duration) TrackerOption {
	return func(o *trackerOptions) {
		o.window = d
	}
}

// WithSweepInterval は Run が期限切れを確認する間隔を設定する
func WithSweepInterval(d time.Duration) TrackerOption {
	return func(o *trackerOptions) {
		o.sweepInterval = d
	}
}

// WithShards はロックのシャード数を設定する
func WithShards(n int) TrackerOption {
	return func(o *trackerOptions) {
		o.shards = n
	}
}

// WithClock は現在時刻の取得関数を差し替える
func WithClock(now func() time.Time) TrackerOption {
	return func(o *trackerOptions) {
		o.now = now
	}
}

// WithReporter は期限切れ・取り消しの通知先を設定する
func WithReporter(r Reporter) TrackerOption {
	return func(o *trackerOptions) {
		o.reporter = r
	}
}

// WithTrackerLogger は Tracker にロガーを設定する
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(o *trackerOptions) {
		o.logger = logger
	}
}

// NewTracker は新しいTrackerを作成する
func NewTracker(opts ...TrackerOption) *Tracker {
	options := trackerOptions{
		window:        DefaultInactivityWindow,
		sweepInterval: DefaultSweepInterval,
		shards:        DefaultShards,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.window <= 0 {
		options.window = DefaultInactivityWindow
	}
	if options.sweepInterval <= 0 {
		options.sweepInterval = DefaultSweepInterval
	}
	if options.shards <= 0 {
		options.shards = DefaultShards
	}
	if options.now == nil {
		options.now = time.Now
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	shards := make([]*shard, options.shards)
	for i := range shards {
		shards[i] = &shard{transfers: make(map[string]*transfer)}
	}

	return &Tracker{
		shards:        shards,
		window:        options.window,
		sweepInterval: options.sweepInterval,
		now:           options.now,
		reporter:      options.reporter,
		logger:        options.logger,
	}
}

func (t *Tracker) shardFor(fileID string) *shard {
	return t.shards[xxhash.Sum64String(fileID)%uint64(len(t.shards))]
}

// Ingest はフラグメントを取り込み、転送が揃えば再構成したアーティファクトを返す。
// 同じ order のフラグメントは後着が優先される。到着順は問わない。
func (t *Tracker) Ingest(ctx context.Context, p BatchPayload) (*IngestResult, error) {
	if t.closed.Load() {
		return nil, ErrTrackerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePayload(p); err != nil {
		return nil, err
	}

	sh := t.shardFor(p.FileID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Close と競合した場合に備え、ロック取得後に再確認する
	if t.closed.Load() {
		return nil, ErrTrackerClosed
	}

	tr, exists := sh.transfers[p.FileID]
	if !exists {
		tr = newTransfer()
	}
	if err := checkConsistency(tr, p); err != nil {
		return nil, err
	}

	if p.Total > 0 {
		tr.total = p.Total
	}
	if p.IsLastChunk {
		tr.lastOrder = p.Order
	}
	if _, dup := tr.fragments[p.Order]; dup {
		t.logger.Debug("重複したフラグメントを上書きします", "fileID", p.FileID, "order", p.Order)
	}
	tr.fragments[p.Order] = p.Chunk
	tr.maxOrder = max(tr.maxOrder, p.Order)
	tr.lastSeen = t.now()

	if !tr.complete() {
		if !exists {
			sh.transfers[p.FileID] = tr
		}
		return &IngestResult{
			FileID:   p.FileID,
			Status:   StatusPending,
			Received: len(tr.fragments),
			Total:    tr.total,
		}, nil
	}

	artifact := tr.assemble()
	delete(sh.transfers, p.FileID)
	t.logger.Debug("転送の再構成が完了しました", "fileID", p.FileID, "fragments", len(tr.fragments), "bytes", len(artifact))

	return &IngestResult{
		FileID:   p.FileID,
		Status:   StatusComplete,
		Received: len(tr.fragments),
		Total:    tr.expected(),
		Artifact: artifact,
	}, nil
}

func validatePayload(p BatchPayload) error {
	if strings.TrimSpace(p.FileID) == "" {
		return invalidFragment(p.FileID, "fileID is required")
	}
	if p.Order < 0 {
		return invalidFragment(p.FileID, "order %d is negative", p.Order)
	}
	if p.Total < 0 {
		return invalidFragment(p.FileID, "total %d is negative", p.Total)
	}
	if p.Total > 0 && p.Order >= p.Total {
		return invalidFragment(p.FileID, "order %d out of range for total %d", p.Order, p.Total)
	}
	if p.IsLastChunk && p.Total > 0 && p.Order != p.Total-1 {
		return invalidFragment(p.FileID, "last chunk order %d does not match total %d", p.Order, p.Total)
	}
	return nil
}

// checkConsistency はフラグメントが既存の転送状態と矛盾しないかを検証する
func checkConsistency(tr *transfer, p BatchPayload) error {
	if p.Total > 0 {
		if tr.total > 0 && tr.total != p.Total {
			return invalidFragment(p.FileID, "total changed from %d to %d", tr.total, p.Total)
		}
		if tr.lastOrder >= 0 && tr.lastOrder != p.Total-1 {
			return invalidFragment(p.FileID, "total %d conflicts with last chunk order %d", p.Total, tr.lastOrder)
		}
		if tr.maxOrder >= p.Total {
			return invalidFragment(p.FileID, "total %d is smaller than received order %d", p.Total, tr.maxOrder)
		}
	}
	if p.IsLastChunk {
		if tr.lastOrder >= 0 && tr.lastOrder != p.Order {
			return invalidFragment(p.FileID, "last chunk order changed from %d to %d", tr.lastOrder, p.Order)
		}
		if tr.total > 0 && p.Order != tr.total-1 {
			return invalidFragment(p.FileID, "last chunk order %d does not match total %d", p.Order, tr.total)
		}
		if tr.maxOrder > p.Order {
			return invalidFragment(p.FileID, "last chunk order %d is before received order %d", p.Order, tr.maxOrder)
		}
	}
	if n := tr.expected(); n > 0 && p.Order >= n {
		return invalidFragment(p.FileID, "order %d out of range for %d fragments", p.Order, n)
	}
	return nil
}

// ExpireIdle は無通信期間を超えた転送を破棄し、Reporter へ通知する。
// 破棄した転送を返す。
func (t *Tracker) ExpireIdle(ctx context.Context) []*TimeoutError {
	now := t.now()

	var expired []*TimeoutError
	for _, sh := range t.shards {
		sh.mu.Lock()
		for fileID, tr := range sh.transfers {
			idle := now.Sub(tr.lastSeen)
			if idle < t.window {
				continue
			}
			expired = append(expired, &TimeoutError{
				FileID:   fileID,
				Received: len(tr.fragments),
				Total:    tr.expected(),
				Idle:     idle,
			})
			delete(sh.transfers, fileID)
		}
		sh.mu.Unlock()
	}

	for _, e := range expired {
		t.logger.Warn("転送が無通信のため破棄されました", "fileID", e.FileID, "received", e.Received, "total", e.Total, "idle", e.Idle)
		if t.reporter != nil {
			t.reporter.TransferExpired(ctx, e)
		}
	}
	return expired
}

// Run は ctx が終了するまで定期的に ExpireIdle を実行する
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.ExpireIdle(ctx)
		}
	}
}

// Cancel は収集中の転送を破棄する。転送が存在しなければ false を返す。
func (t *Tracker) Cancel(ctx context.Context, fileID string) bool {
	sh := t.shardFor(fileID)
	sh.mu.Lock()
	tr, ok := sh.transfers[fileID]
	if ok {
		delete(sh.transfers, fileID)
	}
	sh.mu.Unlock()

	if !ok {
		return false
	}
	t.reportCancelled(ctx, tr.info(fileID))
	return true
}

// Pending は収集中の転送を fileID 順に返す
func (t *Tracker) Pending() []TransferInfo {
	var infos []TransferInfo
	for _, sh := range t.shards {
		sh.mu.Lock()
		for fileID, tr := range sh.transfers {
			infos = append(infos, tr.info(fileID))
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(infos, func(a, b TransferInfo) int { return strings.Compare(a.FileID, b.FileID) })
	return infos
}

// Close は以降の取り込みを拒否し、収集中の転送をすべて取り消す
func (t *Tracker) Close(ctx context.Context) []TransferInfo {
	t.closed.Store(true)

	var cancelled []TransferInfo
	for _, sh := range t.shards {
		sh.mu.Lock()
		for fileID, tr := range sh.transfers {
			cancelled = append(cancelled, tr.info(fileID))
		}
		sh.transfers = make(map[string]*transfer)
		sh.mu.Unlock()
	}

	slices.SortFunc(cancelled, func(a, b TransferInfo) int { return strings.Compare(a.FileID, b.FileID) })
	for _, info := range cancelled {
		t.reportCancelled(ctx, info)
	}
	return cancelled
}

func (t *Tracker) reportCancelled(ctx context.Context, info TransferInfo) {
	t.logger.Info("転送を取り消しました", "fileID", info.FileID, "received", info.Received, "total", info.Total)
	if t.reporter != nil {
		t.reporter.TransferCancelled(ctx, info)
	}
}
