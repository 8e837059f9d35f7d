package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/khstore/cmd/khstore/commands"
)

const uploadDescription = "各フラグメントは監査ログに同期的に記録されます。ストアに到達できない場合、" +
	"フラグメントごとに最大 AUDIT_WRITE_TIMEOUT（既定 5s）待ちます。"

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定読み込み前の構造化ログ
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "khstore",
		Usage: "チャンク済みドキュメントの永続化と分割アップロードの再構成",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "チャンク済みドキュメントをストアへ保存",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "ドキュメントのJSONファイル（配列または単一オブジェクト）",
						Required: true,
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "upload",
				Usage: "JSONLのフラグメント列からファイルを再構成",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "フラグメントのJSONLファイル",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "out",
						Usage:    "再構成したファイルの出力ディレクトリ",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "file-config",
						Usage: "ファイル設定のJSONファイル（監査ログに記録し、出力ファイル名に使用）",
					},
					&cli.BoolFlag{
						Name:  "base64",
						Usage: "再構成した内容をbase64デコードして出力",
					},
				},
				Description: uploadDescription,
				Action:      commands.UploadAction,
			},
			{
				Name:  "log",
				Usage: "監査ログにテキストを記録",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "text",
						Usage:    "記録するテキスト",
						Required: true,
					},
				},
				Action: commands.LogAction,
			},
			{
				Name:  "setup",
				Usage: "コレクションのインデックスを作成",
				Flags: []cli.Flag{
					envFlag(),
				},
				Action: commands.SetupAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
