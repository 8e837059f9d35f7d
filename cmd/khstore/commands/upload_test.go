package commands

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/khstore/internal/core/audit"
	"github.com/jinford/khstore/internal/core/persistence"
	"github.com/jinford/khstore/internal/core/upload"
)

type memorySink struct {
	mu      sync.Mutex
	records []persistence.Record
}

func (s *memorySink) Insert(ctx context.Context, record persistence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *memorySink) kinds() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range s.records {
		counts[r["t"].(string)]++
	}
	return counts
}

func newUploadRunner(t *testing.T, sink *memorySink, decode bool, configs []upload.FileConfig) (*uploadRunner, *bytes.Buffer) {
	t.Helper()
	auditLogger := audit.NewLogger(sink, audit.WithLogger(discardLogger()))
	tracker := upload.NewTracker(
		upload.WithReporter(auditLogger),
		upload.WithTrackerLogger(discardLogger()),
	)
	var out bytes.Buffer
	return &uploadRunner{
		tracker:     tracker,
		audit:       auditLogger,
		outDir:      filepath.Join(t.TempDir(), "out"),
		decode:      decode,
		fileConfigs: configs,
		out:         &out,
	}, &out
}

func TestUploadRunner_ReassemblesOutOfOrder(t *testing.T) {
	sink := &memorySink{}
	runner, _ := newUploadRunner(t, sink, false, nil)

	input := strings.Join([]string{
		`{"fileID":"f1","order":1,"chunk":"world","total":2,"credentials":{"key":"secret-abcd"}}`,
		`{"fileID":"f2","order":0,"chunk":"lonely","total":3}`,
		`{"fileID":"f1","order":0,"chunk":"hello ","total":2}`,
	}, "\n")

	summary, err := runner.run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Accepted)
	assert.Equal(t, 0, summary.Rejected)
	require.Len(t, summary.Written, 1)

	data, err := os.ReadFile(summary.Written[0])
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	// 未完了の転送は最後に取り消される
	require.Len(t, summary.Incomplete, 1)
	assert.Equal(t, "f2", summary.Incomplete[0].FileID)

	kinds := sink.kinds()
	assert.Equal(t, 3, kinds["batch_data_payload"])
	assert.Equal(t, 1, kinds["text_log"])
}

func TestUploadRunner_DecodesAndNamesFromFileConfig(t *testing.T) {
	sink := &memorySink{}
	encoded := base64.StdEncoding.EncodeToString([]byte("binary payload"))
	half := len(encoded) / 2

	runner, out := newUploadRunner(t, sink, true, []upload.FileConfig{
		{FileID: "f1", Filename: "../report.txt", Extension: "txt"},
	})

	input := `{"fileID":"f1","order":0,"chunk":"` + encoded[:half] + `"}` + "\n" +
		`{"fileID":"f1","order":1,"chunk":"` + encoded[half:] + `","isLastChunk":true}`

	summary, err := runner.run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, summary.Written, 1)

	assert.Equal(t, filepath.Join(runner.outDir, "report.txt"), summary.Written[0])
	data, err := os.ReadFile(summary.Written[0])
	require.NoError(t, err)
	assert.Equal(t, "binary payload", string(data))
	assert.Contains(t, out.String(), "✓ f1")
	assert.Equal(t, 1, sink.kinds()["fileConfig"])
}

func TestUploadRunner_RejectsInvalidFragments(t *testing.T) {
	sink := &memorySink{}
	runner, out := newUploadRunner(t, sink, false, nil)

	input := strings.Join([]string{
		`{"fileID":"","order":0,"chunk":"x"}`,
		`{"fileID":"f1","order":5,"chunk":"x","total":2}`,
		`{"fileID":"f1","order":0,"chunk":"ok","total":1}`,
	}, "\n")

	summary, err := runner.run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 2, summary.Rejected)
	assert.Len(t, summary.Written, 1)
	assert.Contains(t, out.String(), "拒否")
}

func TestUploadRunner_MalformedLine(t *testing.T) {
	sink := &memorySink{}
	runner, out := newUploadRunner(t, sink, false, nil)

	input := `{"fileID":"f1","order":0,"chunk":"a","total":2}` + "\n" + `{"fileID":"f1",`
	_, err := runner.run(context.Background(), strings.NewReader(input))
	require.Error(t, err)

	// エラーで中断しても収集中の転送は取り消され、監査ログに残る
	assert.Empty(t, runner.tracker.Pending())
	assert.Equal(t, 1, sink.kinds()["text_log"])
	assert.Contains(t, out.String(), "未完了: f1")
}

func TestUploadRunner_WriteFailureCancelsPending(t *testing.T) {
	sink := &memorySink{}
	runner, _ := newUploadRunner(t, sink, true, nil)

	input := strings.Join([]string{
		`{"fileID":"f2","order":0,"chunk":"a","total":2}`,
		`{"fileID":"f1","order":0,"chunk":"not base64!","total":1}`,
	}, "\n")

	_, err := runner.run(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	assert.Empty(t, runner.tracker.Pending())
	assert.Equal(t, 1, sink.kinds()["text_log"])
}
