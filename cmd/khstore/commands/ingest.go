package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/khstore/internal/core/persistence"
)

// IngestAction はチャンク済みドキュメントをJSONファイルから読み込んで永続化するコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	file := cmd.String("file")
	envFile := cmd.String("env")

	if file == "" {
		return fmt.Errorf("--file は必須です")
	}

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}

	docs, err := loadDocuments(file)
	if err != nil {
		return err
	}

	appCtx.Logger().Info("ドキュメントの取り込みを開始", "file", file, "count", len(docs))
	return runIngest(ctx, appCtx.Container.PersistenceService, docs, cmd.Root().Writer)
}

// loadDocuments はJSON配列または単一オブジェクトのドキュメントを読み込みます
func loadDocuments(path string) ([]persistence.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	var docs []persistence.Document
	if err := json.Unmarshal(data, &docs); err == nil {
		return docs, nil
	}

	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("JSONのパースに失敗: %w", err)
	}
	return []persistence.Document{doc}, nil
}

func runIngest(ctx context.Context, svc *persistence.Service, docs []persistence.Document, w io.Writer) error {
	result, err := svc.InsertDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("ドキュメントの永続化に失敗: %w", err)
	}

	fmt.Fprintf(w, "documents: inserted=%d failed=%d skipped=%d\n",
		result.Documents.InsertedCount, result.Documents.FailedCount(), len(result.Skipped))
	fmt.Fprintf(w, "topics:    inserted=%d failed=%d\n",
		result.Topics.InsertedCount, result.Topics.FailedCount())

	for _, skipped := range result.Skipped {
		fmt.Fprintf(w, "⚠ skipped: %v\n", skipped)
	}
	for _, f := range result.Documents.Failures {
		fmt.Fprintf(w, "⚠ failed: doc_uuid=%v duplicate=%t reason=%s\n", f.Record["doc_uuid"], f.Duplicate, f.Reason)
	}
	return nil
}
