package commands

import (
	"fmt"
	"log/slog"

	"github.com/jinford/khstore/internal/platform/config"
	"github.com/jinford/khstore/internal/platform/container"
	"github.com/jinford/khstore/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、依存関係を組み立てて AppContext を作成する。
// ストアへの接続は各操作の実行時に行われる。
func NewAppContext(envFile string, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)
	return &AppContext{
		Config:    cfg,
		Container: container.NewContainer(cfg, opts...),
	}, nil
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac == nil {
		return slog.Default()
	}
	return ac.Container.Logger()
}
