// Package notifier forwards failure alerts to a Telegram bot. It owns its
// destination config, swaps it atomically on change and persists every
// change immediately.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"keepwarm/internal/clock"
	"keepwarm/internal/metrics"
	"keepwarm/internal/models"
	"keepwarm/internal/storage"
)

// DefaultAPIBase is the Telegram bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// Status summarizes the notifier config without exposing secrets.
type Status struct {
	Configured    bool `json:"configured"`
	PushEnabled   bool `json:"pushEnabled"`
	HasIdentity   bool `json:"hasIdentity"`
	HasCredential bool `json:"hasCredential"`
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAPIBase points the notifier at another bot API host.
func WithAPIBase(base string) Option {
	return func(n *Notifier) {
		if base != "" {
			n.apiBase = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithDefaults sets the config used when no document has been saved yet.
func WithDefaults(chatID, botToken string) Option {
	return func(n *Notifier) {
		n.defaults.ChatID = chatID
		n.defaults.BotToken = botToken
	}
}

// Notifier is safe for concurrent use.
type Notifier struct {
	cfg atomic.Pointer[models.NotifierConfig]
	// mu serializes config changes and their persistence.
	mu sync.Mutex

	docs     storage.DocumentStore
	client   *http.Client
	apiBase  string
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Measures
	defaults models.NotifierConfig
}

// New creates a Notifier holding the default config. Call Load to read the
// saved config.
func New(docs storage.DocumentStore, clk clock.Clock, log *zap.Logger, m *metrics.Measures, opts ...Option) *Notifier {
	n := &Notifier{
		docs:     docs,
		client:   &http.Client{Timeout: 10 * time.Second},
		apiBase:  DefaultAPIBase,
		clock:    clk,
		log:      log,
		metrics:  m,
		defaults: models.NotifierConfig{PushEnabled: true},
	}
	for _, o := range opts {
		o(n)
	}
	initial := n.defaults
	n.cfg.Store(&initial)
	return n
}

// Load reads the saved config. A missing or unreadable document leaves the
// defaults in place.
func (n *Notifier) Load(ctx context.Context) {
	var doc storage.NotifierDocument
	err := n.docs.Load(ctx, storage.DocNotifier, &doc)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		n.log.Info("no saved notifier config, using environment defaults", zap.Bool("configured", n.Config().Configured()))
		return
	case err != nil:
		n.log.Warn("notifier config unreadable, using environment defaults", zap.Error(err))
		return
	}
	cfg := models.NotifierConfig{
		ChatID:      doc.ChatID,
		BotToken:    doc.BotToken,
		PushEnabled: doc.PushEnabled == nil || *doc.PushEnabled,
	}
	n.cfg.Store(&cfg)
	n.log.Info("notifier config loaded", zap.Bool("configured", cfg.Configured()), zap.Bool("push_enabled", cfg.PushEnabled))
}

// Config returns a copy of the current config.
func (n *Notifier) Config() models.NotifierConfig {
	return *n.cfg.Load()
}

// Status reports what is configured.
func (n *Notifier) Status() Status {
	cfg := n.Config()
	return Status{
		Configured:    cfg.Configured(),
		PushEnabled:   cfg.PushEnabled,
		HasIdentity:   cfg.ChatID != "",
		HasCredential: cfg.BotToken != "",
	}
}

// Send delivers message if the notifier is configured and not paused.
// Delivery failures are logged and dropped.
func (n *Notifier) Send(ctx context.Context, message string) {
	cfg := n.Config()
	if !cfg.Configured() {
		n.log.Debug("notifier not configured, alert skipped")
		n.metrics.Notifications.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}
	if !cfg.PushEnabled {
		n.log.Debug("notifier paused, alert skipped")
		n.metrics.Notifications.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}
	if err := n.deliver(ctx, cfg, message); err != nil {
		n.log.Warn("alert delivery failed", zap.Error(err))
		return
	}
	n.log.Debug("alert delivered")
}

// SetConfig stores new credentials and sends a test message with them. The
// test is sent even while push is paused. On delivery failure the new
// config stays saved and ErrDeliveryTestFailed is returned.
func (n *Notifier) SetConfig(ctx context.Context, chatID, botToken string) error {
	chatID, botToken = strings.TrimSpace(chatID), strings.TrimSpace(botToken)
	if chatID == "" {
		return &ConfigError{Field: "chatId"}
	}
	if botToken == "" {
		return &ConfigError{Field: "botToken"}
	}
	cfg := n.update(ctx, func(c *models.NotifierConfig) {
		c.ChatID, c.BotToken = chatID, botToken
	})

	msg := fmt.Sprintf("✅ <b>Telegram alerts configured</b>\n\n"+
		"🎯 This is a test message confirming the configuration is active.\n"+
		"⏰ Configured at: %s", clock.Format(n.clock, n.clock.Now()))
	if err := n.deliver(ctx, cfg, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryTestFailed, err)
	}
	return nil
}

// Clear removes the credentials. The push flag is kept.
func (n *Notifier) Clear(ctx context.Context) {
	n.update(ctx, func(c *models.NotifierConfig) {
		c.ChatID, c.BotToken = "", ""
	})
}

// Enable resumes alert delivery.
func (n *Notifier) Enable(ctx context.Context) {
	n.update(ctx, func(c *models.NotifierConfig) { c.PushEnabled = true })
}

// Disable pauses alert delivery without forgetting the credentials.
func (n *Notifier) Disable(ctx context.Context) {
	n.update(ctx, func(c *models.NotifierConfig) { c.PushEnabled = false })
}

// Persist writes the current config.
func (n *Notifier) Persist(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.save(ctx, n.Config())
}

func (n *Notifier) update(ctx context.Context, fn func(*models.NotifierConfig)) models.NotifierConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	next := n.Config()
	fn(&next)
	n.cfg.Store(&next)
	n.save(ctx, next)
	return next
}

// save must be called with n.mu held.
func (n *Notifier) save(ctx context.Context, cfg models.NotifierConfig) {
	enabled := cfg.PushEnabled
	doc := storage.NotifierDocument{
		ChatID:      cfg.ChatID,
		BotToken:    cfg.BotToken,
		PushEnabled: &enabled,
		LastUpdated: n.clock.Now().UTC(),
	}
	if err := n.docs.Save(ctx, storage.DocNotifier, doc); err != nil {
		n.metrics.PersistFailures.WithLabelValues(storage.DocNotifier).Inc()
		n.log.Error("failed to persist notifier config", zap.Error(err))
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (n *Notifier) deliver(ctx context.Context, cfg models.NotifierConfig, message string) error {
	err := n.post(ctx, cfg, message)
	if err != nil {
		n.metrics.Notifications.WithLabelValues(metrics.ResultFailed).Inc()
		return err
	}
	n.metrics.Notifications.WithLabelValues(metrics.ResultSent).Inc()
	return nil
}

func (n *Notifier) post(ctx context.Context, cfg models.NotifierConfig, message string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: cfg.ChatID, Text: message, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		// The endpoint embeds the token; do not echo it back.
		return errors.New("failed to build bot api request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("bot api request failed: %w", redact(err, cfg.BotToken))
	}
	defer resp.Body.Close()

	ok := resp.StatusCode/100 == 2
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil && ok {
		return fmt.Errorf("failed to read bot api response: %w", err)
	}
	var out sendMessageResponse
	if err := json.Unmarshal(data, &out); err != nil && ok {
		return fmt.Errorf("bot api returned %d with an unreadable body: %w", resp.StatusCode, err)
	}
	if !ok || !out.OK {
		if out.Description == "" {
			out.Description = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("bot api returned %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}

// redact strips the bot token from errors that echo the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
