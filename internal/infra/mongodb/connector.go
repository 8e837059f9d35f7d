package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jinford/khstore/internal/core/persistence"
)

// ConnectionParams はドキュメントストアへの接続パラメータ
type ConnectionParams struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Connector は呼び出しごとにスコープ付きの接続を開く
type Connector struct {
	params ConnectionParams
	logger *slog.Logger
}

// NewConnector は新しいConnectorを作成します
func NewConnector(params ConnectionParams, logger *slog.Logger) *Connector {
	if params.ConnectTimeout <= 0 {
		params.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{params: params, logger: logger}
}

// Session は1回の操作の間だけ保持される接続
type Session struct {
	client *mongo.Client
	db     *mongo.Database
}

// Collection はコレクションハンドルを返します
func (s *Session) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Connect は新しい接続を開き、疎通を確認します。
// 失敗した場合は *persistence.ConnectionError を返します。
func (c *Connector) Connect(ctx context.Context) (*Session, error) {
	opts := options.Client().
		ApplyURI(c.params.URI).
		SetConnectTimeout(c.params.ConnectTimeout).
		SetServerSelectionTimeout(c.params.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, persistence.NewConnectionError("connect", err)
	}

	// 接続テスト
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, persistence.NewConnectionError("ping", err)
	}

	c.logger.Debug("MongoDBに接続しました", "database", c.params.Database)
	return &Session{client: client, db: client.Database(c.params.Database)}, nil
}

// Close は接続を閉じます
func (s *Session) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

// WithSession は接続を開いて fn に渡し、どの経路で抜けても必ず閉じます。
func WithSession[T any](ctx context.Context, c *Connector, fn func(*Session) (T, error)) (T, error) {
	var zero T
	session, err := c.Connect(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		if closeErr := session.Close(context.WithoutCancel(ctx)); closeErr != nil {
			c.logger.Warn("MongoDB接続のクローズに失敗しました", "error", closeErr)
		} else {
			c.logger.Debug("MongoDB接続を閉じました")
		}
	}()

	return fn(session)
}
