package whatsapp

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
	"time"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/integrations/paramstore"
)

const (
	defaultBaseURL          = "https://graph.facebook.com/v19.0"
	defaultTemplateLanguage = "pt_BR"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	getter        paramstore.Getter
	paramPrefix   string
	phoneNumberID string

	mu    sync.Mutex
	token string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the business phone number phoneNumberID.
// The access token is fetched from SSM by Warm or the first send. Only a
// successful fetch is cached; a failed one is retried on the next call.
func NewClient(ps paramstore.Getter, paramPrefix, phoneNumberID string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("whatsapp: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("whatsapp: parameter prefix must not be empty")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		getter:        ps,
		paramPrefix:   paramPrefix,
		phoneNumberID: phoneNumberID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Warm fetches the access token so a missing or empty credential surfaces at
// startup instead of on the first reply.
func (c *Client) Warm(ctx context.Context) error {
	_, err := c.resolveToken(ctx)
	return err
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := paramstore.GetToken(ctx, c.getter, c.tokenParam())
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) tokenParam() string {
	return c.paramPrefix + "/whatsapp-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func messagesURL(baseURL, phoneNumberID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/" + phoneNumberID + "/messages"
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.send(ctx, newTextMessage(to, text))
}

// SendChoice sends prompt with selectable options: reply buttons for up to
// three options, a list for up to ten, and numbered text beyond that.
func (c *Client) SendChoice(ctx context.Context, to, prompt string, options []domain.ChoiceOption) error {
	switch {
	case len(options) == 0:
		return c.SendText(ctx, to, prompt)
	case len(options) <= maxButtons:
		return c.send(ctx, newButtonMessage(to, prompt, options))
	case len(options) <= maxListRows:
		return c.send(ctx, newListMessage(to, prompt, options))
	default:
		return c.SendText(ctx, to, numberedText(prompt, options))
	}
}

// SendTemplate sends the approved template name in language lang, filling
// the body placeholders with params in order.
func (c *Client) SendTemplate(ctx context.Context, to, name, lang string, params []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("whatsapp: template name must not be empty")
	}
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = defaultTemplateLanguage
	}
	return c.send(ctx, newTemplateMessage(to, name, lang, params))
}

func (c *Client) send(ctx context.Context, msg outboundMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("whatsapp: recipient must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	url := messagesURL(c.baseURL, c.phoneNumberID)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return fmt.Errorf("whatsapp: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return fmt.Errorf("whatsapp: send %s failed: %w", msg.Type, err)
	}

	var payload sendResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return fmt.Errorf("whatsapp: decode response: %w", decErr)
	}
	if len(payload.Messages) == 0 {
		return errors.New("whatsapp: no message id in response")
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
