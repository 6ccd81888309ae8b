package infrastructure

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioMessenger pushes WhatsApp messages through the Twilio REST API.
// It carries replies that finished after the webhook response was sent.
type TwilioMessenger struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioMessenger(accountSID, authToken, fromNumber string) *TwilioMessenger {
	return &TwilioMessenger{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from: whatsappAddress(fromNumber),
	}
}

func (t *TwilioMessenger) SendMessage(ctx context.Context, to, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(t.from)
	params.SetBody(content)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if resp.Sid != nil {
		log.Debug().Str("sid", *resp.Sid).Str("to", to).Msg("Twilio message queued")
	}
	return nil
}

// whatsappAddress prefixes a bare number with the Twilio WhatsApp scheme.
func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// TwilioSignatureValidator checks X-Twilio-Signature on inbound webhooks.
type TwilioSignatureValidator struct {
	validator twilioclient.RequestValidator
}

func NewTwilioSignatureValidator(authToken string) *TwilioSignatureValidator {
	return &TwilioSignatureValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the full public URL and form params.
func (v *TwilioSignatureValidator) Valid(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(url, params, signature)
}
