package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keepwarm/internal/clock"
	"keepwarm/internal/metrics"
	"keepwarm/internal/storage"
	"keepwarm/internal/storage/file"
)

// fakeBot records sendMessage calls and answers with the configured status.
type fakeBot struct {
	mu       sync.Mutex
	paths    []string
	messages []sendMessageRequest
	status   int
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg sendMessageRequest
	_ = json.NewDecoder(r.Body).Decode(&msg)

	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.messages = append(b.messages, msg)
	status := b.status
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
}

func (b *fakeBot) fail(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *fakeBot) first() (string, sendMessageRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paths[0], b.messages[0]
}

func (b *fakeBot) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type fixture struct {
	n       *Notifier
	bot     *fakeBot
	docs    *file.FileStore
	metrics *metrics.Measures
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	bot := &fakeBot{}
	srv := httptest.NewServer(bot)
	t.Cleanup(srv.Close)

	docs, err := file.New(t.TempDir())
	require.NoError(t, err)

	hk, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2024, 5, 10, 12, 0, 0, 0, hk))

	m := metrics.New(prometheus.NewRegistry())
	opts = append([]Option{WithAPIBase(srv.URL)}, opts...)
	n := New(docs, clk, zaptest.NewLogger(t), m, opts...)
	return fixture{n: n, bot: bot, docs: docs, metrics: m}
}

func TestSendSkippedWhenUnconfigured(t *testing.T) {
	f := newFixture(t)
	f.n.Load(context.Background())

	f.n.Send(context.Background(), "hello")

	assert.Equal(t, 0, f.bot.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.ResultSkipped)))
	assert.Equal(t, Status{PushEnabled: true}, f.n.Status())
}

func TestSendUsesEnvironmentDefaults(t *testing.T) {
	f := newFixture(t, WithDefaults("42", "tok"))
	f.n.Load(context.Background())

	f.n.Send(context.Background(), "<b>down</b>")

	require.Equal(t, 1, f.bot.calls())
	path, msg := f.bot.first()
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, sendMessageRequest{ChatID: "42", Text: "<b>down</b>", ParseMode: "HTML"}, msg)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.ResultSent)))
}

func TestSetConfigSendsTestMessageAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.n.SetConfig(ctx, " 100 ", " secret "))

	require.Equal(t, 1, f.bot.calls())
	path, msg := f.bot.first()
	assert.Equal(t, "/botsecret/sendMessage", path)
	assert.Contains(t, msg.Text, "2024-05-10 12:00:00")

	var doc storage.NotifierDocument
	require.NoError(t, f.docs.Load(ctx, storage.DocNotifier, &doc))
	assert.Equal(t, "100", doc.ChatID)
	assert.Equal(t, "secret", doc.BotToken)
	require.NotNil(t, doc.PushEnabled)
	assert.True(t, *doc.PushEnabled)

	assert.Equal(t, Status{Configured: true, PushEnabled: true, HasIdentity: true, HasCredential: true}, f.n.Status())
}

func TestSetConfigValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.n.SetConfig(ctx, "", "tok")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	err = f.n.SetConfig(ctx, "1", "  ")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Equal(t, 0, f.bot.calls())
	assert.False(t, f.n.Status().Configured)
}

func TestSetConfigDeliveryFailureKeepsConfig(t *testing.T) {
	f := newFixture(t)
	f.bot.fail(http.StatusUnauthorized)

	err := f.n.SetConfig(context.Background(), "1", "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeliveryTestFailed))
	assert.Contains(t, err.Error(), "Unauthorized")
	assert.NotContains(t, err.Error(), "/botbad")

	assert.True(t, f.n.Status().Configured)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.ResultFailed)))
}

func TestSetConfigRejectsNonJSONSuccess(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	defer proxy.Close()
	f := newFixture(t, WithAPIBase(proxy.URL))

	err := f.n.SetConfig(context.Background(), "1", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryTestFailed)
	assert.Contains(t, err.Error(), "unreadable body")
	assert.NotContains(t, err.Error(), ": OK")
}

func TestConfigErrorStatusCode(t *testing.T) {
	err := newFixture(t).n.SetConfig(context.Background(), " ", "tok")
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "chatId", ce.Field)
	assert.Equal(t, http.StatusBadRequest, ce.StatusCode())
}

func TestSetConfigTestsEvenWhenPaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.n.Disable(ctx)

	require.NoError(t, f.n.SetConfig(ctx, "1", "tok"))
	assert.Equal(t, 1, f.bot.calls())

	f.n.Send(ctx, "alert")
	assert.Equal(t, 1, f.bot.calls(), "paused notifier must not deliver alerts")
	assert.False(t, f.n.Status().PushEnabled)
}

func TestEnableDisableClear(t *testing.T) {
	f := newFixture(t, WithDefaults("1", "tok"))
	ctx := context.Background()
	f.n.Load(ctx)

	f.n.Disable(ctx)
	f.n.Send(ctx, "a")
	assert.Equal(t, 0, f.bot.calls())

	f.n.Enable(ctx)
	f.n.Send(ctx, "b")
	assert.Equal(t, 1, f.bot.calls())

	f.n.Disable(ctx)
	f.n.Clear(ctx)
	st := f.n.Status()
	assert.False(t, st.Configured)
	assert.False(t, st.HasIdentity)
	assert.False(t, st.HasCredential)
	assert.False(t, st.PushEnabled, "clear keeps the push flag")
}

func TestLoadRestoresSavedConfig(t *testing.T) {
	f := newFixture(t, WithDefaults("env-chat", "env-token"))
	ctx := context.Background()
	paused := false
	require.NoError(t, f.docs.Save(ctx, storage.DocNotifier, storage.NotifierDocument{
		ChatID: "saved", BotToken: "saved-token", PushEnabled: &paused,
	}))

	f.n.Load(ctx)

	cfg := f.n.Config()
	assert.Equal(t, "saved", cfg.ChatID)
	assert.Equal(t, "saved-token", cfg.BotToken)
	assert.False(t, cfg.PushEnabled)
}

func TestLoadMissingPushFlagMeansEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.docs.Save(ctx, storage.DocNotifier, map[string]string{"chatId": "1", "botToken": "t"}))

	f.n.Load(ctx)

	assert.True(t, f.n.Config().PushEnabled)
	assert.True(t, f.n.Status().Configured)
}

func TestSendFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, WithDefaults("1", "tok"))
	f.bot.fail(http.StatusInternalServerError)
	f.n.Load(context.Background())

	assert.NotPanics(t, func() { f.n.Send(context.Background(), "x") })
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.ResultFailed)))
}

func TestRedact(t *testing.T) {
	err := redact(errors.New(`Post "http://x/bottok123/sendMessage": refused`), "tok123")
	assert.False(t, strings.Contains(err.Error(), "tok123"))
	assert.Contains(t, err.Error(), "<redacted>")
}
