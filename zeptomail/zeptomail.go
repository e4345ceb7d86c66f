// Package zeptomail implements mailout.Transport over the ZeptoMail HTTP
// API. HTTP 4xx responses are permanent failures; 5xx responses, rate limits,
// and network errors are transient and feed the retry policy.
package zeptomail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/velmie/mailout"
)

const (
	// DefaultEndpoint is the ZeptoMail send-mail endpoint.
	DefaultEndpoint = "https://api.zeptomail.com/v1.1/email"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4096
)

// ErrAPIKeyRequired is returned when constructing a client without an API key.
var ErrAPIKeyRequired = errors.New("zeptomail: api key is required")

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type sendRequest struct {
	From emailAddress `json:"from"`
	To   []struct {
		EmailAddress emailAddress `json:"email_address"`
	} `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"htmlbody,omitempty"`
	TextBody string `json:"textbody,omitempty"`
}

// Client sends rendered mailout messages through ZeptoMail.
type Client struct {
	endpoint    string
	apiKey      string
	fromAddress string
	fromName    string
	httpClient  *http.Client
}

var _ mailout.Transport = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDefaultFrom sets the sender used when a message carries no from
// address of its own.
func WithDefaultFrom(address, name string) Option {
	return func(c *Client) {
		c.fromAddress = address
		c.fromName = name
	}
}

// NewClient constructs a ZeptoMail client.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	client := &Client{
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Send implements mailout.Transport.
func (c *Client) Send(ctx context.Context, msg mailout.Message) error {
	payload := sendRequest{
		From:     c.sender(msg),
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	}
	payload.To = append(payload.To, struct {
		EmailAddress emailAddress `json:"email_address"`
	}{EmailAddress: emailAddress{Address: msg.Recipient}})

	body, err := json.Marshal(payload)
	if err != nil {
		return mailout.Permanent(fmt.Errorf("zeptomail: encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return mailout.Permanent(fmt.Errorf("zeptomail: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mailout.Transient(fmt.Errorf("zeptomail: request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := readBody(resp.Body)
	failure := fmt.Errorf("zeptomail: status %d: %s", resp.StatusCode, detail)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return mailout.Transient(failure)
	}

	return mailout.Permanent(failure)
}

func (c *Client) sender(msg mailout.Message) emailAddress {
	if msg.FromAddress != "" {
		return emailAddress{Address: msg.FromAddress, Name: msg.FromName}
	}

	return emailAddress{Address: c.fromAddress, Name: c.fromName}
}

func readBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBody))
	if err != nil || len(data) == 0 {
		return "no response body"
	}

	return string(data)
}
