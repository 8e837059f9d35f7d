package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Collections は書き込み先コレクション名
type Collections struct {
	Documents string
	Topics    string
}

// DefaultCollections は既定のコレクション名を返します
func DefaultCollections() Collections {
	return Collections{
		Documents: "chunked_documents",
		Topics:    "gpttopics",
	}
}

// Service はドキュメントの正規化と永続化のユースケースを提供する
type Service struct {
	gateway     Gateway
	audit       AuditLogger
	collections Collections
	logger      *slog.Logger
}

type serviceOptions struct {
	audit       AuditLogger
	collections Collections
	logger      *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithLogger は Service にロガーを設定する
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithAuditLogger はスキップされたドキュメントを記録する監査ロガーを設定する
func WithAuditLogger(audit AuditLogger) ServiceOption {
	return func(o *serviceOptions) {
		o.audit = audit
	}
}

// WithCollections は書き込み先コレクションを上書きする
func WithCollections(c Collections) ServiceOption {
	return func(o *serviceOptions) {
		o.collections = c
	}
}

// NewService は新しいServiceを作成する
func NewService(gateway Gateway, opts ...ServiceOption) *Service {
	options := serviceOptions{
		collections: DefaultCollections(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Service{
		gateway:     gateway,
		audit:       options.audit,
		collections: options.collections,
		logger:      options.logger,
	}
}

// InsertDocuments はドキュメントを正規化し、本体コレクションとトピックコレクションへ書き込む。
// 正規化に失敗したドキュメントはスキップされ、結果の Skipped に入る。
// 呼び出し全体が失敗するのは接続レベルの障害のみ。
func (s *Service) InsertDocuments(ctx context.Context, docs []Document) (*PersistResult, error) {
	batch := NormalizeAll(docs)
	result := &PersistResult{Skipped: batch.Skipped}

	for _, normErr := range batch.Skipped {
		s.logger.Warn("ドキュメントをスキップしました", "docUUID", normErr.DocUUID, "title", normErr.Title, "error", normErr)
		if s.audit != nil {
			s.audit.LogText(ctx, fmt.Sprintf("skipped document: %v", normErr))
		}
	}

	records := batch.Records
	var topics []Record
	for _, doc := range batch.Accepted {
		for _, topic := range ToTopicRecords(DocumentChunks(doc)) {
			topics = append(topics, topic.ToRecord())
		}
	}

	if len(records) == 0 {
		s.logger.Info("挿入対象のドキュメントがありません", "input", len(docs), "skipped", len(result.Skipped))
		return result, nil
	}

	s.logger.Debug("チャンクをトピックレコードに変換しました", "count", len(topics))

	// 本体とトピックはそれぞれ独立した接続で並行に書き込む
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(topics) == 0 {
			return nil
		}
		outcome, err := s.gateway.InsertDocuments(gctx, s.collections.Topics, topics)
		if err != nil {
			return fmt.Errorf("failed to insert topic records: %w", err)
		}
		result.Topics = *outcome
		return nil
	})
	g.Go(func() error {
		outcome, err := s.gateway.InsertDocuments(gctx, s.collections.Documents, records)
		if err != nil {
			return fmt.Errorf("failed to insert documents: %w", err)
		}
		result.Documents = *outcome
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("ドキュメントの永続化が完了しました",
		"inserted", result.Documents.InsertedCount,
		"failed", result.Documents.FailedCount(),
		"skipped", len(result.Skipped),
		"topicsInserted", result.Topics.InsertedCount,
		"topicsFailed", result.Topics.FailedCount(),
	)
	for _, f := range result.Documents.Failures {
		s.logger.Warn("ドキュメントの挿入に失敗しました", "index", f.Index, "docUUID", f.Record["doc_uuid"], "code", f.Code, "reason", f.Reason)
	}

	return result, nil
}
