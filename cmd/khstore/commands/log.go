package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// LogAction は自由形式のテキストを監査ログに記録するコマンドのアクション
func LogAction(ctx context.Context, cmd *cli.Command) error {
	text := cmd.String("text")
	envFile := cmd.String("env")

	if text == "" {
		return fmt.Errorf("--text は必須です")
	}

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}

	// 書き込み失敗は監査ロガー側でログ出力されるのみ
	appCtx.Container.AuditLogger.LogText(ctx, text)
	return nil
}
