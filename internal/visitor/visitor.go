package visitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"keepwarm/internal/clock"
	"keepwarm/internal/metrics"
	"keepwarm/internal/models"
	"keepwarm/internal/urlutil"
)

// Browser-like request profile sent with every visit.
const (
	UserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.5"
	maxDrainBytes  = 64 << 10
)

// Recorder stores visit outcomes.
type Recorder interface {
	AppendLog(rec models.AccessLog) models.AccessLog
}

// Alerter delivers failure alerts. Implementations decide whether they are
// enabled and swallow their own delivery errors.
type Alerter interface {
	Send(ctx context.Context, message string)
}

// NewHTTPClient returns a client that skips certificate verification and
// stops following redirects after five hops. A zero timeout means none.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// Visitor issues one GET per target and records the outcome.
type Visitor struct {
	client  *http.Client
	records Recorder
	alerts  Alerter
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Measures
}

// New creates a Visitor.
func New(client *http.Client, records Recorder, alerts Alerter, clk clock.Clock, log *zap.Logger, m *metrics.Measures) *Visitor {
	return &Visitor{
		client:  client,
		records: records,
		alerts:  alerts,
		clock:   clk,
		log:     log,
		metrics: m,
	}
}

// Visit fetches target.URL. Any HTTP response, whatever its status, is a
// successful visit. Only transport failures raise an alert. Errors never
// escape this call.
func (v *Visitor) Visit(ctx context.Context, target models.Target) {
	start := time.Now()
	resp, err := v.get(ctx, target.URL)
	v.metrics.VisitDuration.WithLabelValues(string(target.Mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		v.failed(ctx, target, err)
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()

	v.records.AppendLog(models.AccessLog{
		URL:    target.URL,
		Mode:   target.Mode,
		Status: models.HTTPStatus(resp.StatusCode),
	})
	v.metrics.Visits.WithLabelValues(string(target.Mode), metrics.OutcomeResponse).Inc()
	v.log.Debug("target visited",
		zap.Int64("target_id", target.ID),
		zap.String("host", urlutil.Host(target.URL)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
}

func (v *Visitor) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
	return v.client.Do(req)
}

func (v *Visitor) failed(ctx context.Context, target models.Target, err error) {
	code := Classify(err)
	rec := v.records.AppendLog(models.AccessLog{
		URL:    target.URL,
		Mode:   target.Mode,
		Status: models.TransportStatus(code),
		Error:  err.Error(),
	})
	v.metrics.Visits.WithLabelValues(string(target.Mode), metrics.OutcomeTransport).Inc()
	v.log.Warn("target unreachable",
		zap.Int64("target_id", target.ID),
		zap.String("host", urlutil.Host(target.URL)),
		zap.String("code", code),
		zap.Error(err),
	)
	v.alerts.Send(ctx, FormatAlert(target, code, err.Error(), rec.Timestamp))
}

// FormatAlert renders the HTML failure alert.
func FormatAlert(target models.Target, code, message, timestamp string) string {
	return fmt.Sprintf("📣 <b>Keep-warm alert</b>\n\n"+
		"🔗 <b>URL:</b> %s\n"+
		"📊 <b>Mode:</b> %s\n"+
		"❌ <b>Error status:</b> %s\n"+
		"💬 <b>Error message:</b> %s\n"+
		"⏰ <b>Time:</b> %s",
		html.EscapeString(target.URL),
		target.Mode.Label(),
		html.EscapeString(code),
		html.EscapeString(message),
		timestamp,
	)
}
