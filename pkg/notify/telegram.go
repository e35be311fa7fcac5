// Package notify delivers backup documents through third-party messaging APIs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// ErrNotConfigured is returned when a messenger lacks credentials.
var ErrNotConfigured = errors.New("messenger not configured")

// Telegram sends documents to a chat through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// TelegramOption configures Telegram.
type TelegramOption func(*Telegram)

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) TelegramOption {
	return func(t *Telegram) {
		if hc != nil {
			t.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TelegramOption {
	return func(t *Telegram) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTelegram creates a client for bot token posting into chatID.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: DefaultTelegramAPI,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendDocument uploads data as a file named filename with an optional caption.
func (t *Telegram) SendDocument(ctx context.Context, filename, caption string, data []byte) error {
	if t.token == "" || t.chatID == "" {
		return ErrNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := t.http.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram sendDocument: %w", err)
	}
	defer res.Body.Close()

	var out apiResponse
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)
	if res.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = http.StatusText(res.StatusCode)
		}
		return fmt.Errorf("telegram sendDocument: %d %s", res.StatusCode, desc)
	}

	t.logger.Info("document sent", "channel", "telegram", "file", filename, "bytes", len(data))
	return nil
}
