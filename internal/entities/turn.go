package entities

import (
	"strings"
	"time"
)

// Provider identifies the messaging channel a turn arrived on.
type Provider string

const (
	ProviderWhatsAppCloud Provider = "whatsapp_cloud"
	ProviderTwilio        Provider = "twilio"
)

// MediaRef points at an attachment that has not been downloaded yet.
type MediaRef struct {
	Locator       string // URL (Twilio) or opaque media id (WhatsApp Cloud)
	RequiresFetch bool   // true when Locator must be resolved with an authenticated lookup
	ContentType   string
}

// IsImage reports whether the attachment can be handed to the agent as an image.
// An unknown content type is assumed to be an image.
func (m MediaRef) IsImage() bool {
	return m.ContentType == "" || strings.HasPrefix(strings.ToLower(m.ContentType), "image/")
}

// ConversationTurn is one inbound message, normalized across providers.
type ConversationTurn struct {
	SenderID  string
	Text      string
	Media     *MediaRef
	Provider  Provider
	MessageID string // provider delivery id, used for dedup
	Received  time.Time
}

// HasText reports whether the turn carries non-blank text.
func (t ConversationTurn) HasText() bool {
	return strings.TrimSpace(t.Text) != ""
}

// Validate enforces the turn invariants: a sender and at least one of text or media.
func (t ConversationTurn) Validate() error {
	if strings.TrimSpace(t.SenderID) == "" {
		return &ValidationError{Reason: ReasonMissingSender}
	}
	if !t.HasText() && t.Media == nil {
		return &ValidationError{Reason: ReasonEmptyTurn}
	}
	return nil
}

// PartKind tags the variants of Part.
type PartKind int

const (
	PartText PartKind = iota
	PartImage
)

// Part is one piece of user content handed to the reasoning engine.
// Exactly one of Text or ImageURL is meaningful, selected by Kind.
type Part struct {
	Kind     PartKind
	Text     string
	ImageURL string
}

func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }
func ImagePart(url string) Part { return Part{Kind: PartImage, ImageURL: url} }
