package mail

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type RelayConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// RelaySender posts messages as JSON to an HTTP mail API.
type RelaySender struct {
	client *resty.Client
	url    string
}

func NewRelaySender(cfg RelayConfig) *RelaySender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cli := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		cli.SetAuthToken(key)
	}
	return &RelaySender{client: cli, url: cfg.URL}
}

func (s *RelaySender) Driver() string { return "relay" }

func (s *RelaySender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("mail relay request: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("mail relay status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}
