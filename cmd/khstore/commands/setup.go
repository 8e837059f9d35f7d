package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/khstore/internal/core/persistence"
)

// SetupAction はコレクションのインデックスを作成するコマンドのアクション
func SetupAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}

	if appCtx.Container.Indexer == nil {
		return fmt.Errorf("インデックス作成に対応していないゲートウェイです")
	}

	cfg := appCtx.Config.Mongo
	collections := persistence.Collections{
		Documents: cfg.DocumentsCollection,
		Topics:    cfg.TopicsCollection,
	}
	if err := appCtx.Container.Indexer.EnsureIndexes(ctx, collections, cfg.LogsCollection); err != nil {
		return fmt.Errorf("インデックスの作成に失敗: %w", err)
	}

	fmt.Fprintf(cmd.Root().Writer, "✓ indexes ready on %s\n", cfg.Database)
	return nil
}
