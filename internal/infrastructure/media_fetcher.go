package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dermabot/internal/entities"
)

// DefaultMaxMediaBytes caps a single attachment download.
const DefaultMaxMediaBytes = 16 << 20

// HTTPMediaFetcher downloads provider-hosted attachments.
// Twilio URLs are fetched directly with basic auth; WhatsApp Cloud media ids
// are first resolved through the Graph API with the bearer token.
type HTTPMediaFetcher struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	WhatsAppToken    string
	GraphAPIBase     string
	MaxBytes         int64
	Retry            RetryConfig
	client           *http.Client
}

func NewHTTPMediaFetcher(twilioSID, twilioToken, whatsappToken, graphAPIBase string) *HTTPMediaFetcher {
	return &HTTPMediaFetcher{
		TwilioAccountSID: twilioSID,
		TwilioAuthToken:  twilioToken,
		WhatsAppToken:    whatsappToken,
		GraphAPIBase:     strings.TrimRight(graphAPIBase, "/"),
		MaxBytes:         DefaultMaxMediaBytes,
		Retry:            DefaultRetryConfig(),
		client:           &http.Client{Timeout: 20 * time.Second},
	}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, ref entities.MediaRef) ([]byte, error) {
	if ref.Locator == "" {
		return nil, fmt.Errorf("%w: empty media locator", entities.ErrFetch)
	}

	url := ref.Locator
	if ref.RequiresFetch {
		resolved, err := f.resolveWhatsAppMedia(ctx, ref.Locator)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve media %s: %w", entities.ErrFetch, ref.Locator, err)
		}
		url = resolved
	}

	var data []byte
	err := RetryWithBackoff(ctx, f.Retry, "media_download", func() error {
		var derr error
		data, derr = f.download(ctx, url, ref.RequiresFetch)
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entities.ErrFetch, err)
	}
	return data, nil
}

type graphMediaResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// resolveWhatsAppMedia turns a media id into a short-lived download URL.
func (f *HTTPMediaFetcher) resolveWhatsAppMedia(ctx context.Context, mediaID string) (string, error) {
	if f.WhatsAppToken == "" {
		return "", fmt.Errorf("whatsapp token not configured")
	}

	var meta graphMediaResponse
	err := RetryWithBackoff(ctx, f.Retry, "media_lookup", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.GraphAPIBase+"/"+mediaID, nil)
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+f.WhatsAppToken)

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("graph lookup status %d: %s", resp.StatusCode, string(body))
		}
		return json.NewDecoder(resp.Body).Decode(&meta)
	})
	if err != nil {
		return "", err
	}
	if meta.URL == "" {
		return "", fmt.Errorf("graph lookup returned no url")
	}
	if f.MaxBytes > 0 && meta.FileSize > f.MaxBytes {
		return "", entities.ErrMediaTooLarge
	}
	return meta.URL, nil
}

func (f *HTTPMediaFetcher) download(ctx context.Context, url string, bearer bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	if bearer {
		req.Header.Set("Authorization", "Bearer "+f.WhatsAppToken)
	} else if f.TwilioAccountSID != "" {
		req.SetBasicAuth(f.TwilioAccountSID, f.TwilioAuthToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxMediaBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, Permanent(entities.ErrMediaTooLarge)
	}
	if len(data) == 0 {
		return nil, Permanent(fmt.Errorf("empty media body"))
	}
	return data, nil
}
