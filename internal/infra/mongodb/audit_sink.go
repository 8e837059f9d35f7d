package mongodb

import (
	"context"
	"maps"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jinford/khstore/internal/core/persistence"
)

// AuditSink は監査レコードをログコレクションへ1件ずつ書き込む
type AuditSink struct {
	connector  *Connector
	collection string
}

// NewAuditSink は新しいAuditSinkを作成します
func NewAuditSink(connector *Connector, collection string) *AuditSink {
	return &AuditSink{connector: connector, collection: collection}
}

// Insert はレコードを書き込みます。"_id" がなければ ObjectID を採番します。
func (s *AuditSink) Insert(ctx context.Context, record persistence.Record) error {
	if _, ok := record["_id"]; !ok {
		record = maps.Clone(record)
		record["_id"] = primitive.NewObjectID()
	}

	_, err := WithSession(ctx, s.connector, func(sess *Session) (struct{}, error) {
		if _, err := sess.Collection(s.collection).InsertOne(ctx, record); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}
