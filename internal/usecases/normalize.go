package usecases

import (
	"encoding/json"
	"strings"
	"time"

	"dermabot/internal/entities"
)

// PayloadAdapter is a provider webhook payload that can become a turn.
type PayloadAdapter interface {
	Normalize() (entities.ConversationTurn, error)
}

// TwilioPayload is the form body Twilio posts for an inbound WhatsApp message.
type TwilioPayload struct {
	From              string `form:"From"`
	Body              string `form:"Body"`
	NumMedia          string `form:"NumMedia"`
	MediaURL0         string `form:"MediaUrl0"`
	MediaContentType0 string `form:"MediaContentType0"`
	MessageSid        string `form:"MessageSid"`
}

func (p TwilioPayload) Normalize() (entities.ConversationTurn, error) {
	turn := entities.ConversationTurn{
		SenderID:  strings.TrimSpace(p.From),
		Text:      strings.TrimSpace(p.Body),
		Provider:  entities.ProviderTwilio,
		MessageID: strings.TrimSpace(p.MessageSid),
		Received:  time.Now(),
	}
	if u := strings.TrimSpace(p.MediaURL0); u != "" {
		turn.Media = &entities.MediaRef{
			Locator:     u,
			ContentType: strings.TrimSpace(p.MediaContentType0),
		}
	}
	return turn, turn.Validate()
}

// --- WhatsApp Cloud webhook payload types ---

type WhatsAppCloudPayload struct {
	Object string          `json:"object"`
	Entry  []WhatsAppEntry `json:"entry"`
}

type WhatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []WhatsAppChange `json:"changes"`
}

type WhatsAppChange struct {
	Field string        `json:"field"`
	Value WhatsAppValue `json:"value"`
}

type WhatsAppValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Messages         []WhatsAppMessage `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses,omitempty"`
}

type WhatsAppMessage struct {
	From      string         `json:"from"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Text      *WhatsAppText  `json:"text,omitempty"`
	Image     *WhatsAppMedia `json:"image,omitempty"`
	Document  *WhatsAppMedia `json:"document,omitempty"`
	Audio     *WhatsAppMedia `json:"audio,omitempty"`
	Video     *WhatsAppMedia `json:"video,omitempty"`
	Sticker   *WhatsAppMedia `json:"sticker,omitempty"`
}

type WhatsAppText struct {
	Body string `json:"body"`
}

type WhatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// ParseWhatsAppCloud decodes a webhook body.
func ParseWhatsAppCloud(body []byte) (WhatsAppCloudPayload, error) {
	var p WhatsAppCloudPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, &entities.ValidationError{Reason: entities.ReasonMalformed, Detail: err.Error()}
	}
	return p, nil
}

// Messages flattens every message of every change, in delivery order.
// Status callbacks carry no messages and yield nothing.
func (p WhatsAppCloudPayload) Messages() []WhatsAppMessage {
	var out []WhatsAppMessage
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Messages...)
		}
	}
	return out
}

func (m WhatsAppMessage) Normalize() (entities.ConversationTurn, error) {
	turn := entities.ConversationTurn{
		SenderID:  strings.TrimSpace(m.From),
		Provider:  entities.ProviderWhatsAppCloud,
		MessageID: m.ID,
		Received:  time.Now(),
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			turn.Text = strings.TrimSpace(m.Text.Body)
		}
	default:
		if media := m.media(); media != nil && media.ID != "" {
			turn.Text = strings.TrimSpace(media.Caption)
			turn.Media = &entities.MediaRef{
				Locator:       media.ID,
				RequiresFetch: true,
				ContentType:   media.MimeType,
			}
			// Stickers and images without a mime type are still images.
			if turn.Media.ContentType == "" && m.Type != "image" && m.Type != "sticker" {
				turn.Media.ContentType = "application/octet-stream"
			}
		}
	}
	return turn, turn.Validate()
}

func (m WhatsAppMessage) media() *WhatsAppMedia {
	switch m.Type {
	case "image":
		return m.Image
	case "document":
		return m.Document
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "sticker":
		return m.Sticker
	}
	return nil
}
