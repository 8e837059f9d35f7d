package commands

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/jinford/khstore/internal/core/audit"
	"github.com/jinford/khstore/internal/core/upload"
)

// UploadAction はJSONLのフラグメント列を再構成し、完成したファイルを出力するコマンドのアクション。
// 各フラグメントは監査ログに同期的に記録されるため、ストアに到達できない場合は
// フラグメントごとに最大 AUDIT_WRITE_TIMEOUT 待つ。
func UploadAction(ctx context.Context, cmd *cli.Command) error {
	file := cmd.String("file")
	outDir := cmd.String("out")
	envFile := cmd.String("env")

	if file == "" {
		return fmt.Errorf("--file は必須です")
	}
	if outDir == "" {
		return fmt.Errorf("--out は必須です")
	}

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}

	var fileConfigs []upload.FileConfig
	if path := cmd.String("file-config"); path != "" {
		fileConfigs, err = loadFileConfigs(path)
		if err != nil {
			return err
		}
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}
	defer f.Close()

	runner := &uploadRunner{
		tracker:     appCtx.Container.Tracker,
		audit:       appCtx.Container.AuditLogger,
		outDir:      outDir,
		decode:      cmd.Bool("base64"),
		fileConfigs: fileConfigs,
		out:         cmd.Root().Writer,
	}

	// 無通信の転送は処理中も期限切れとして破棄する
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go appCtx.Container.Tracker.Run(sweepCtx)

	summary, err := runner.run(ctx, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(runner.out, "fragments: accepted=%d rejected=%d\n", summary.Accepted, summary.Rejected)
	fmt.Fprintf(runner.out, "files:     completed=%d incomplete=%d\n", len(summary.Written), len(summary.Incomplete))
	return nil
}

func loadFileConfigs(path string) ([]upload.FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ファイル設定の読み込みに失敗: %w", err)
	}
	var configs []upload.FileConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("ファイル設定のパースに失敗: %w", err)
	}
	return configs, nil
}

// uploadSummary は1回のアップロード処理の結果
type uploadSummary struct {
	Accepted   int
	Rejected   int
	Written    []string
	Incomplete []upload.TransferInfo
}

type uploadRunner struct {
	tracker     *upload.Tracker
	audit       *audit.Logger
	outDir      string
	decode      bool
	fileConfigs []upload.FileConfig
	out         io.Writer
}

// run はフラグメントを順に取り込みます。
// 途中でエラーになった場合も含め、終了時に未完了の転送を取り消します。
func (r *uploadRunner) run(ctx context.Context, in io.Reader) (*uploadSummary, error) {
	summary := &uploadSummary{}
	defer func() {
		summary.Incomplete = r.tracker.Close(ctx)
		for _, info := range summary.Incomplete {
			fmt.Fprintf(r.out, "⚠ 未完了: %s received=%d total=%d\n", info.FileID, info.Received, info.Total)
		}
	}()

	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	names := make(map[string]string, len(r.fileConfigs))
	for i := range r.fileConfigs {
		fc := &r.fileConfigs[i]
		r.audit.LogFileConfig(ctx, fc)
		if fc.FileID != "" && fc.Filename != "" {
			names[fc.FileID] = fc.Filename
		}
	}

	dec := json.NewDecoder(in)
	for line := 1; ; line++ {
		var p upload.BatchPayload
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("フラグメント %d のパースに失敗: %w", line, err)
		}

		r.audit.LogBatchPayload(ctx, &p)

		result, err := r.tracker.Ingest(ctx, p)
		if err != nil {
			if errors.Is(err, upload.ErrInvalidFragment) {
				summary.Rejected++
				fmt.Fprintf(r.out, "⚠ フラグメント %d を拒否: %v\n", line, err)
				r.audit.LogText(ctx, err.Error())
				continue
			}
			return nil, fmt.Errorf("フラグメント %d の取り込みに失敗: %w", line, err)
		}
		summary.Accepted++

		if !result.Complete() {
			continue
		}
		path, err := r.writeArtifact(result, names[result.FileID])
		if err != nil {
			return nil, err
		}
		summary.Written = append(summary.Written, path)
		fmt.Fprintf(r.out, "✓ %s (%d fragments) -> %s\n", result.FileID, result.Total, path)
	}

	return summary, nil
}

func (r *uploadRunner) writeArtifact(result *upload.IngestResult, name string) (string, error) {
	data := result.Artifact
	if r.decode {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return "", fmt.Errorf("%s のデコードに失敗: %w", result.FileID, err)
		}
		data = decoded
	}

	if name == "" {
		name = result.FileID
	}
	path := filepath.Join(r.outDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%s の書き込みに失敗: %w", result.FileID, err)
	}
	return path, nil
}
