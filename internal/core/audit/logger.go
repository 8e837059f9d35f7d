package audit

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/khstore/internal/core/persistence"
	"github.com/jinford/khstore/internal/core/upload"
)

// EventKind は監査イベントの種別。保存時に "t" フィールドとして付与される。
type EventKind string

const (
	KindTextLog              EventKind = "text_log"
	KindBatchPayloadSnapshot EventKind = "batch_data_payload"
	KindFileConfigSnapshot   EventKind = "fileConfig"
)

const (
	// KindField は種別を保持するフィールド名
	KindField = "t"
	// NoneMarker は入力が nil のときに記録される番兵値
	NoneMarker = "None"

	DefaultWriteTimeout = 5 * time.Second
)

// Sink は監査レコードの書き込み先
type Sink interface {
	Insert(ctx context.Context, record persistence.Record) error
}

// Logger は診断イベントをログコレクションへ記録する。
// 書き込みの失敗はプロセスのログに出力したうえで握りつぶし、呼び出し元へは伝播しない。
type Logger struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type loggerOptions struct {
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option は Logger のオプション設定
type Option func(*loggerOptions)

// WithWriteTimeout は1件の書き込みにかける最大時間を設定する
func WithWriteTimeout(d time.Duration) Option {
	return func(o *loggerOptions) {
		o.timeout = d
	}
}

// WithClock は記録時刻の取得関数を差し替える
func WithClock(now func() time.Time) Option {
	return func(o *loggerOptions) {
		o.now = now
	}
}

// WithLogger はプロセス側の診断ログ出力先を設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *loggerOptions) {
		o.logger = logger
	}
}

// NewLogger は新しいLoggerを作成する
func NewLogger(sink Sink, opts ...Option) *Logger {
	options := loggerOptions{
		timeout: DefaultWriteTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.timeout <= 0 {
		options.timeout = DefaultWriteTimeout
	}
	if options.now == nil {
		options.now = time.Now
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Logger{
		sink:    sink,
		timeout: options.timeout,
		now:     options.now,
		logger:  options.logger,
	}
}

// LogEvent は種別付きのイベントを記録する。
// payload が nil の場合は {t: kind, payload: "None"} を記録する。
func (l *Logger) LogEvent(ctx context.Context, kind EventKind, payload persistence.Record) {
	var record persistence.Record
	if payload == nil {
		record = persistence.Record{"payload": NoneMarker}
	} else {
		record = maps.Clone(payload)
	}
	record[KindField] = string(kind)
	record["event_id"] = uuid.NewString()
	record["logged_at"] = l.now().UTC()

	l.write(ctx, kind, record)
}

// LogText は自由形式のテキストを記録する
func (l *Logger) LogText(ctx context.Context, text string) {
	l.LogEvent(ctx, KindTextLog, persistence.Record{"text": text})
}

// LogBatchPayload はアップロードフラグメントのスナップショットを記録する。
// 認証キーはマスクされる。
func (l *Logger) LogBatchPayload(ctx context.Context, p *upload.BatchPayload) {
	if p == nil {
		l.LogEvent(ctx, KindBatchPayloadSnapshot, nil)
		return
	}
	l.LogEvent(ctx, KindBatchPayloadSnapshot, persistence.Record{
		"chunk":       p.Chunk,
		"isLastChunk": p.IsLastChunk,
		"total":       p.Total,
		"fileID":      p.FileID,
		"order":       p.Order,
		"credentials": persistence.Record{
			"deployment": p.Credentials.Deployment,
			"url":        p.Credentials.URL,
			"key":        MaskSecret(p.Credentials.Key),
		},
	})
}

// LogFileConfig はファイル設定のスナップショットを記録する
func (l *Logger) LogFileConfig(ctx context.Context, fc *upload.FileConfig) {
	if fc == nil {
		l.LogEvent(ctx, KindFileConfigSnapshot, nil)
		return
	}
	metadata := fc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	l.LogEvent(ctx, KindFileConfigSnapshot, persistence.Record{
		"fileID":    fc.FileID,
		"filename":  fc.Filename,
		"isURL":     fc.IsURL,
		"overwrite": fc.Overwrite,
		"extension": fc.Extension,
		"source":    fc.Source,
		"content":   fc.Content,
		"file_size": fc.FileSize,
		"metadata":  metadata,
	})
}

// TransferExpired は無通信で破棄された転送を記録する（upload.Reporter）
func (l *Logger) TransferExpired(ctx context.Context, e *upload.TimeoutError) {
	l.LogEvent(ctx, KindTextLog, persistence.Record{
		"text":     e.Error(),
		"event":    "transfer_expired",
		"fileID":   e.FileID,
		"received": e.Received,
		"total":    e.Total,
		"idle_ms":  e.Idle.Milliseconds(),
	})
}

// TransferCancelled は取り消された転送を記録する（upload.Reporter）
func (l *Logger) TransferCancelled(ctx context.Context, info upload.TransferInfo) {
	l.LogEvent(ctx, KindTextLog, persistence.Record{
		"text":     fmt.Sprintf("%v: fileID=%s received=%d total=%d", upload.ErrTransferCancelled, info.FileID, info.Received, info.Total),
		"event":    "transfer_cancelled",
		"fileID":   info.FileID,
		"received": info.Received,
		"total":    info.Total,
	})
}

func (l *Logger) write(ctx context.Context, kind EventKind, record persistence.Record) {
	if l.sink == nil {
		l.logger.Warn("監査ログの書き込み先が未設定です", "kind", kind)
		return
	}

	// 呼び出し元のキャンセルに巻き込まれず、かつ時間上限を持たせる
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("監査ログの書き込み中にパニックが発生しました", "kind", kind, "panic", r)
		}
	}()

	if err := l.sink.Insert(writeCtx, record); err != nil {
		l.logger.Error("監査ログの書き込みに失敗しました", "kind", kind, "error", err)
	}
}

// MaskSecret は秘密値の末尾4文字以外を伏せる
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= 4 {
		return "****"
	}
	return "****" + string(runes[len(runes)-4:])
}
