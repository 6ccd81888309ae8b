package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// WhatsAppCloudClient sends text replies through the Graph messages API.
type WhatsAppCloudClient struct {
	accessToken   string
	phoneNumberID string
	apiBase       string
	limiter       *rate.Limiter
	retry         RetryConfig
	client        *http.Client
}

func NewWhatsAppCloudClient(accessToken, phoneNumberID, apiBase string, sendRPS float64) *WhatsAppCloudClient {
	if sendRPS <= 0 {
		sendRPS = 20
	}
	return &WhatsAppCloudClient{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		apiBase:       strings.TrimRight(apiBase, "/"),
		limiter:       rate.NewLimiter(rate.Limit(sendRPS), int(sendRPS)+1),
		retry:         DefaultRetryConfig(),
		client:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WhatsAppCloudClient) SendMessage(ctx context.Context, to, content string) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.phoneNumberID)
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]interface{}{
			"preview_url": false,
			"body":        content,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp send rate limit: %w", err)
	}

	return RetryWithBackoff(ctx, w.retry, "whatsapp_send", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+w.accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, string(body))
		}
		log.Debug().Str("to", to).Int("chars", len(content)).Msg("WhatsApp reply sent")
		return nil
	})
}
