package mongodb

import (
	"context"
	"errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jinford/khstore/internal/core/persistence"
)

// duplicate key を示すサーバーエラーコード
var duplicateKeyCodes = map[int]bool{
	11000: true,
	11001: true,
	12582: true,
}

// Gateway は persistence.Gateway の MongoDB 実装。
// 呼び出しごとに接続を開き、終了時に必ず閉じる。
type Gateway struct {
	connector *Connector
	logger    *slog.Logger
}

// NewGateway は新しいGatewayを作成します
func NewGateway(connector *Connector, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{connector: connector, logger: logger}
}

var _ persistence.Gateway = (*Gateway)(nil)

// InsertDocuments はレコードを ordered=false で一括挿入します。
// 一部のレコードの失敗（duplicate key など）は残りの挿入を止めず、InsertOutcome に集約されます。
func (g *Gateway) InsertDocuments(ctx context.Context, collection string, records []persistence.Record) (*persistence.InsertOutcome, error) {
	if len(records) == 0 {
		g.logger.Info("挿入対象のドキュメントがありません", "collection", collection)
		return &persistence.InsertOutcome{}, nil
	}

	return WithSession(ctx, g.connector, func(s *Session) (*persistence.InsertOutcome, error) {
		docs := make([]any, len(records))
		for i, r := range records {
			docs[i] = r
		}

		_, err := s.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		outcome, err := g.classifyInsertError(records, err)
		if err != nil {
			return nil, err
		}

		g.logger.Info("ドキュメントを挿入しました",
			"collection", collection,
			"inserted", outcome.InsertedCount,
			"failed", outcome.FailedCount(),
		)
		return outcome, nil
	})
}

// classifyInsertError は InsertMany のエラーを、レコード単位の失敗と呼び出し全体の障害に振り分けます
func (g *Gateway) classifyInsertError(records []persistence.Record, err error) (*persistence.InsertOutcome, error) {
	if err == nil {
		return &persistence.InsertOutcome{InsertedCount: len(records)}, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		if persistence.IsConnectionError(err) {
			return nil, err
		}
		return nil, persistence.NewConnectionError("insert", err)
	}

	if bwe.WriteConcernError != nil {
		g.logger.Warn("write concern エラーが発生しました", "code", bwe.WriteConcernError.Code, "message", bwe.WriteConcernError.Message)
	}

	outcome := &persistence.InsertOutcome{}
	for _, we := range bwe.WriteErrors {
		failure := persistence.WriteFailure{
			Index:     we.Index,
			Code:      we.Code,
			Reason:    we.Message,
			Duplicate: duplicateKeyCodes[we.Code],
		}
		if we.Index >= 0 && we.Index < len(records) {
			failure.Record = records[we.Index]
		}
		outcome.Failures = append(outcome.Failures, failure)
	}
	outcome.InsertedCount = max(len(records)-len(outcome.Failures), 0)

	return outcome, nil
}

// EnsureIndexes は検索用のセカンダリインデックスを作成します（冪等）
func (g *Gateway) EnsureIndexes(ctx context.Context, collections persistence.Collections, logsCollection string) error {
	_, err := WithSession(ctx, g.connector, func(s *Session) (struct{}, error) {
		specs := map[string][]mongo.IndexModel{
			collections.Topics: {
				{Keys: bson.D{{Key: "doc_uuid", Value: 1}, {Key: "chunk_id", Value: 1}}},
			},
			logsCollection: {
				{Keys: bson.D{{Key: "t", Value: 1}, {Key: "logged_at", Value: -1}}},
				{Keys: bson.D{{Key: "fileID", Value: 1}}, Options: options.Index().SetSparse(true)},
			},
		}

		for collection, models := range specs {
			names, err := s.Collection(collection).Indexes().CreateMany(ctx, models)
			if err != nil {
				return struct{}{}, persistence.NewConnectionError("create indexes on "+collection, err)
			}
			g.logger.Info("インデックスを作成しました", "collection", collection, "indexes", names)
		}
		return struct{}{}, nil
	})
	return err
}
