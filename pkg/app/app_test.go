package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/config"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/provider/providertest"
	"github.com/flemzord/scout/internal/research"
	sqlitestore "github.com/flemzord/scout/modules/store/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
version: "1"
provider:
  kind: anthropic
search:
  api_key: tvly-secret-key
log:
  level: error
`))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func testParams(t *testing.T, p provider.Provider) Params {
	t.Helper()
	return Params{
		Version:   "test",
		DataDir:   t.TempDir(),
		LogOutput: &bytes.Buffer{},
		Provider:  p,
	}
}

// acceptAll approves every request as proposed.
type acceptAll struct{}

func (acceptAll) Review(context.Context, approval.ActionRequest) (approval.Decision, error) {
	return approval.Accept{}, nil
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nprovider:\n  kind: openai\nsearch:\n  api_key: k\n"), 0o600))

	cfg, resolved, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, config.ProviderOpenAI, cfg.Provider.Kind)

	_, _, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("provider:\n  kind: gemini\n"), 0o600))
	_, _, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "version field is required")
}

func TestLoadConfig_FindsDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scout"), 0o755))
	want := filepath.Join(dir, "scout", "scout.yaml")
	require.NoError(t, os.WriteFile(want, []byte("version: \"1\"\nprovider:\n  kind: anthropic\nsearch:\n  api_key: k\n"), 0o600))

	_, got, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuild_Defaults(t *testing.T) {
	cfg := testConfig(t)
	d, err := Build(context.Background(), cfg, testParams(t, providertest.Scripted()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	assert.IsType(t, &approval.MemoryStore{}, d.Store)
	assert.Nil(t, d.Gateway, "no gateway without a bind address")
	assert.Equal(t, []string{
		research.ToolCreatePlan,
		research.ToolSearch,
		research.ToolSendEmail,
		research.ToolUpdateStatus,
	}, d.Tools.Names())
	assert.NotNil(t, d.Scheduler)
}

func TestBuild_SQLiteStoreAndGateway(t *testing.T) {
	cfg := testConfig(t)
	cfg.Approval.Store.Kind = config.StoreSQLite
	cfg.Gateway.Bind = "127.0.0.1:0"
	cfg.Schedules = []config.Schedule{{Name: "weekly", Cron: "0 9 * * 1", Prompt: "AI news, email a@b.com"}}

	params := testParams(t, providertest.Scripted())
	d, err := Build(context.Background(), cfg, params)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	store, ok := d.Store.(*sqlitestore.Store)
	require.True(t, ok, "store is %T", d.Store)
	assert.Equal(t, filepath.Join(params.DataDir, "scout.db"), store.Path())
	assert.NotNil(t, d.Gateway)
}

func TestBuild_ProviderErrors(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := testConfig(t)
	params := testParams(t, nil)
	_, err := Build(context.Background(), cfg, params)
	assert.ErrorContains(t, err, "API key")

	cfg.Provider.Kind = "gemini"
	_, err = Build(context.Background(), cfg, params)
	assert.ErrorIs(t, err, provider.ErrNoProvider)
}

func TestBuild_AuditFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Path = filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	d, err := Build(context.Background(), cfg, testParams(t, providertest.Scripted()))
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))

	_, err = os.Stat(cfg.Audit.Path)
	assert.NoError(t, err)
}

func TestRunOnce_EmailAcceptedFromTerminal(t *testing.T) {
	args, err := json.Marshal(map[string]string{"to": "a@b.com", "subject": "AI news", "body": "findings"})
	require.NoError(t, err)

	p := providertest.Scripted(
		provider.CompletionResponse{
			ToolCalls:    []provider.ToolCall{{ID: "c1", Name: research.ToolSendEmail, Arguments: args}},
			FinishReason: provider.FinishReasonToolUse,
		},
		provider.CompletionResponse{Content: "Report previewed.", FinishReason: provider.FinishReasonStop},
	)

	params := testParams(t, p)
	params.Prompter = acceptAll{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := RunOnce(ctx, testConfig(t), params, "Summarize AI news and email a@b.com")
	require.NoError(t, err)
	assert.Equal(t, research.StateCompleted, task.State)
	assert.Equal(t, "Report previewed.", task.Content)
	require.Len(t, task.ToolCalls, 1)
	assert.Contains(t, task.ToolCalls[0].Output, "Email NOT sent")
}

func TestRunOnce_TimeoutCancelsTask(t *testing.T) {
	p := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			<-ctx.Done()
			return provider.CompletionResponse{}, ctx.Err()
		},
	}
	cfg := testConfig(t)
	cfg.Tasks.RunTimeout = 50 * time.Millisecond

	params := testParams(t, p)
	params.Prompter = acceptAll{}

	task, err := RunOnce(context.Background(), cfg, params, "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, research.StateCancelled, task.State)
}

func TestServe_StopsOnContext(t *testing.T) {
	cfg := testConfig(t)
	params := testParams(t, providertest.Scripted())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, params) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestNewLogger_RedactsSecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mail.Password = "hunter2-smtp"

	var out bytes.Buffer
	redactor := newRedactor(cfg)
	logger, err := newLogger(config.LogConfig{Format: "json"}, Params{LogOutput: &out}, redactor)
	require.NoError(t, err)

	logger.Info("connecting", "search_key", "tvly-secret-key", "password", "hunter2-smtp")
	assert.NotContains(t, out.String(), "tvly-secret-key")
	assert.NotContains(t, out.String(), "hunter2-smtp")
	assert.True(t, json.Valid(bytes.TrimSpace(out.Bytes())))
}

func TestNewLogger_LevelOverride(t *testing.T) {
	var out bytes.Buffer
	debug := slog.LevelDebug
	logger, err := newLogger(config.LogConfig{Level: "error"}, Params{LogOutput: &out, LogLevel: &debug}, newRedactor(&config.Config{}))
	require.NoError(t, err)

	logger.Debug("visible")
	assert.Contains(t, out.String(), "visible")

	_, err = newLogger(config.LogConfig{Format: "xml"}, Params{}, newRedactor(&config.Config{}))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Nil(t, lvl)

	lvl, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, *lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	s := Summary(research.Task{ID: "t1", State: research.StateFailed, Error: "boom"})
	assert.True(t, strings.HasPrefix(s, "Task t1 failed"))
	assert.Contains(t, s, "Error: boom")
}
