package container

import (
	"log/slog"

	"github.com/jinford/khstore/internal/core/audit"
	"github.com/jinford/khstore/internal/core/persistence"
	"github.com/jinford/khstore/internal/core/upload"
	"github.com/jinford/khstore/internal/infra/mongodb"
	"github.com/jinford/khstore/internal/platform/config"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	PersistenceService *persistence.Service
	AuditLogger        *audit.Logger
	Tracker            *upload.Tracker
	// Indexer は MongoDB ゲートウェイを使う場合のみ設定される
	Indexer *mongodb.Gateway

	config *config.Config
	logger *slog.Logger
}

type containerOptions struct {
	logger    *slog.Logger
	gateway   persistence.Gateway
	auditSink audit.Sink
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerGateway は永続化ゲートウェイを差し替える
func WithContainerGateway(gateway persistence.Gateway) ContainerOption {
	return func(opts *containerOptions) {
		opts.gateway = gateway
	}
}

// WithContainerAuditSink は監査ログの書き込み先を差し替える
func WithContainerAuditSink(sink audit.Sink) ContainerOption {
	return func(opts *containerOptions) {
		opts.auditSink = sink
	}
}

// NewContainer は設定からコンテナを生成する。
// 接続は操作ごとに開かれるため、生成時点ではストアへ接続しない。
func NewContainer(cfg *config.Config, opts ...ContainerOption) *ServiceContainer {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	connector := mongodb.NewConnector(mongodb.ConnectionParams{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	}, options.logger)

	// Gateway (MongoDB)
	var indexer *mongodb.Gateway
	gateway := options.gateway
	if gateway == nil {
		indexer = mongodb.NewGateway(connector, options.logger)
		gateway = indexer
	}

	// AuditLogger
	sink := options.auditSink
	if sink == nil {
		sink = mongodb.NewAuditSink(connector, cfg.Mongo.LogsCollection)
	}
	auditLogger := audit.NewLogger(sink,
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithLogger(options.logger),
	)

	// PersistenceService
	persistenceService := persistence.NewService(gateway,
		persistence.WithLogger(options.logger),
		persistence.WithAuditLogger(auditLogger),
		persistence.WithCollections(persistence.Collections{
			Documents: cfg.Mongo.DocumentsCollection,
			Topics:    cfg.Mongo.TopicsCollection,
		}),
	)

	// Tracker（期限切れ・取り消しは監査ログへ報告する）
	tracker := upload.NewTracker(
		upload.WithInactivityWindow(cfg.Upload.InactivityWindow),
		upload.WithSweepInterval(cfg.Upload.SweepInterval),
		upload.WithShards(cfg.Upload.Shards),
		upload.WithReporter(auditLogger),
		upload.WithTrackerLogger(options.logger),
	)

	return &ServiceContainer{
		PersistenceService: persistenceService,
		AuditLogger:        auditLogger,
		Tracker:            tracker,
		Indexer:            indexer,
		config:             cfg,
		logger:             options.logger,
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Config は設定を返す。
func (c *ServiceContainer) Config() *config.Config {
	if c == nil {
		return nil
	}
	return c.config
}
