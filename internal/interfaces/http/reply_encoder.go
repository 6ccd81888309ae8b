package http

import (
	"bytes"
	"encoding/xml"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"
)

const xmlContentType = "application/xml"

// EncodeTwiML wraps text in a messaging <Response><Message> envelope.
func EncodeTwiML(text string) string {
	doc, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: text}})
	if err == nil {
		return doc
	}
	log.Error().Err(err).Msg("TwiML encoding failed, using plain envelope")

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<Response><Message>")
	_ = xml.EscapeText(&buf, []byte(text))
	buf.WriteString("</Message></Response>")
	return buf.String()
}

// writeTwiML always answers 200: Twilio retries anything else and would
// duplicate the turn.
func writeTwiML(c *gin.Context, text string) {
	c.Data(http.StatusOK, xmlContentType, []byte(EncodeTwiML(text)))
}

// ackWhatsApp acknowledges a Cloud API delivery; the reply is sent separately.
func ackWhatsApp(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
