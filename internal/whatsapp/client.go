// Package whatsapp sends text messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned when the phone number ID or token is missing.
var ErrNotConfigured = errors.New("whatsapp: phone number id and token are required")

const maxErrorBodyBytes = 2048

// Notifier delivers a text message to a WhatsApp user.
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
}

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: api returned %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	Token         string
	Timeout       time.Duration
	// HTTPClient overrides the default client; its own Timeout is left alone.
	HTTPClient *http.Client
}

type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewClient(cfg Config) *Client {
	c := &Client{token: cfg.Token, http: cfg.HTTPClient}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.PhoneNumberID != "" {
		c.endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/" +
			strings.Trim(cfg.APIVersion, "/") + "/" +
			url.PathEscape(cfg.PhoneNumberID) + "/messages"
	}
	return c
}

// Configured reports whether SendText can reach the API at all.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.token != ""
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// SendText posts a text message to the recipient's wa_id or phone number.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
