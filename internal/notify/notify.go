// Package notify delivers chat alerts and emails through HTTP collaborators.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"genomicore/internal/core"
)

// Alerter pushes a short text message to an operator channel.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Mailer sends a plain text email.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// Email is the relay payload.
type Email struct {
	Recipients   []string `json:"recipients"`
	CCRecipients []string `json:"cc_recipients,omitempty"`
	Subject      string   `json:"subject"`
	Body         string   `json:"plain_text_content"`
}

// ClientOptions tunes the retrying HTTP client.
type ClientOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	HTTPClient   *http.Client
	Logger       core.Logger
}

// NewClient builds a retrying client. The core.Logger method set satisfies
// retryablehttp.LeveledLogger.
func NewClient(opts ClientOptions) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 10 * time.Second
	if opts.RetryMax > 0 {
		c.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		c.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		c.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.HTTPClient != nil {
		c.HTTPClient = opts.HTTPClient
	}
	if opts.Logger != nil {
		c.Logger = retryablehttp.LeveledLogger(opts.Logger)
	} else {
		c.Logger = nil
	}
	return c
}

// PostJSON sends body as JSON and fails on any non-2xx status.
func PostJSON(ctx context.Context, client *retryablehttp.Client, url string, body any, header http.Header) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Webhook posts {text} to a chat webhook.
type Webhook struct {
	URL    string
	client *retryablehttp.Client
}

// NewWebhook returns a webhook alerter.
func NewWebhook(url string, opts ClientOptions) *Webhook {
	return &Webhook{URL: url, client: NewClient(opts)}
}

// Alert implements Alerter.
func (w *Webhook) Alert(ctx context.Context, text string) error {
	return PostJSON(ctx, w.client, w.URL, map[string]string{"text": text}, nil)
}

// Relay posts emails to an HTTP mail relay.
type Relay struct {
	URL    string
	client *retryablehttp.Client
}

// NewRelay returns a relay mailer.
func NewRelay(url string, opts ClientOptions) *Relay {
	return &Relay{URL: url, client: NewClient(opts)}
}

// Send implements Mailer.
func (r *Relay) Send(ctx context.Context, msg Email) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("email %q has no recipients", msg.Subject)
	}
	return PostJSON(ctx, r.client, r.URL, msg, nil)
}

type noopAlerter struct{}

func (noopAlerter) Alert(context.Context, string) error { return nil }

// NoopAlerter is used when no webhook is configured for a namespace.
func NoopAlerter() Alerter { return noopAlerter{} }

type noopMailer struct{}

func (noopMailer) Send(context.Context, Email) error { return nil }

// NoopMailer drops every email.
func NoopMailer() Mailer { return noopMailer{} }

// Alerters resolves a namespace to its configured webhook.
type Alerters struct {
	urls map[string]string
	opts ClientOptions
}

// NewAlerters binds namespace → webhook URL.
func NewAlerters(urls map[string]string, opts ClientOptions) *Alerters {
	cp := make(map[string]string, len(urls))
	for k, v := range urls {
		cp[k] = v
	}
	return &Alerters{urls: cp, opts: opts}
}

// For returns the namespace's alerter, or a noop when none is configured.
func (a *Alerters) For(namespace string) Alerter {
	if a == nil {
		return NoopAlerter()
	}
	url := a.urls[namespace]
	if url == "" {
		return NoopAlerter()
	}
	return NewWebhook(url, a.opts)
}
