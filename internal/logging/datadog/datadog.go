// Package datadog sends envelope batches to the Datadog Logs intake API.
package datadog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/esobolev/ddshipper/internal/logging"
)

const (
	DefaultSite    = "datadoghq.com"
	intakePath     = "/api/v2/logs"
	requestTimeout = 10 * time.Second

	apiKeyHeader   = "DD-API-KEY"
	instanceHeader = "X-Shipper-Instance"
)

// Config configures the intake sender. APIKey is mandatory.
type Config struct {
	APIKey string

	// Site selects the Datadog region (datadoghq.com, datadoghq.eu, ...).
	// BaseURL, when set, overrides it entirely (used by tests).
	Site    string
	BaseURL string

	Source   string
	Service  string
	Tags     string
	Hostname string

	// InstanceID identifies the producing handler in request headers.
	InstanceID string
}

// Sender posts batches to the intake endpoint. One Send is one attempt;
// retrying is the caller's concern.
type Sender struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// logItem mirrors the intake API's item schema. The envelope itself
// travels JSON-encoded in the message field.
type logItem struct {
	Message  string `json:"message"`
	DDSource string `json:"ddsource,omitempty"`
	DDTags   string `json:"ddtags,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service,omitempty"`
}

func NewSender(cfg Config) (*Sender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("datadog: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		site := cfg.Site
		if site == "" {
			site = DefaultSite
		}
		baseURL = "https://http-intake.logs." + site
	}
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	return &Sender{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

func (s *Sender) Send(ctx context.Context, batch []logging.Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	items := make([]logItem, 0, len(batch))
	for _, env := range batch {
		items = append(items, s.formatItem(env))
	}

	body, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "marshal intake payload")
	}
	return s.sendRequest(ctx, body)
}

func (s *Sender) formatItem(env logging.Envelope) logItem {
	message, err := json.Marshal(env)
	if err != nil {
		// Envelopes hold only JSON-safe values by construction; if one
		// slips through, ship the readable form instead of losing it.
		message = []byte(fmt.Sprintf("%q", fmt.Sprint(env)))
	}

	tags := make([]string, 0, 4)
	if level, ok := env["level"].(string); ok && level != "" {
		tags = append(tags, "level:"+strings.ToLower(level))
	}
	if logger, ok := env["logger"].(string); ok && logger != "" {
		tags = append(tags, "logger:"+logger)
	}
	if environment, ok := env["env"].(string); ok && environment != "" {
		tags = append(tags, "env:"+environment)
	}
	if version, ok := env["version"].(string); ok && version != "" {
		tags = append(tags, "version:"+version)
	}
	if s.cfg.Tags != "" {
		tags = append(tags, s.cfg.Tags)
	}

	return logItem{
		Message:  string(message),
		DDSource: s.cfg.Source,
		DDTags:   strings.Join(tags, ","),
		Hostname: s.cfg.Hostname,
		Service:  s.cfg.Service,
	}
}

func (s *Sender) sendRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+intakePath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create intake request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, s.cfg.APIKey)
	if s.cfg.InstanceID != "" {
		req.Header.Set(instanceHeader, s.cfg.InstanceID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "post intake request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("intake returned status %d: %s", resp.StatusCode, string(responseBody))
	}
	return nil
}
