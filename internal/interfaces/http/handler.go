package http

import (
	"context"
	"io"
	"net/http"
	"strings"

	"dermabot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SignatureChecker validates a provider request signature over URL and form params.
type SignatureChecker interface {
	Valid(url string, params map[string]string, signature string) bool
}

// WebhookConfig holds the secrets the webhook endpoints check.
type WebhookConfig struct {
	VerifyToken     string
	AppSecret       string           // optional X-Hub-Signature-256 check
	TwilioSignature SignatureChecker // optional X-Twilio-Signature check
	PublicBaseURL   string           // external base URL Twilio signs against
}

type Handler struct {
	messageService   *usecases.MessageService
	dashboardUsecase *usecases.DashboardUsecase
	webhooks         WebhookConfig
	health           func(ctx context.Context) error
}

func NewHandler(service *usecases.MessageService, dashboard *usecases.DashboardUsecase, webhooks WebhookConfig, health func(ctx context.Context) error) *Handler {
	return &Handler{
		messageService:   service,
		dashboardUsecase: dashboard,
		webhooks:         webhooks,
		health:           health,
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, auth *usecases.AuthUsecase, middleware *Middleware, maxBodyBytes int64) {
	r.Use(RequestLogger())
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(maxBodyBytes))

	r.GET("/healthz", h.Health)

	// Provider webhooks
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.HandleWhatsAppCloud)
	r.POST("/twilio/whatsapp", h.HandleTwilio)

	// Public Auth Routes
	authGroup := r.Group("/api/auth")
	authGroup.Use(middleware.CORSMiddleware())
	{
		authGroup.POST("/login", func(c *gin.Context) {
			var loginReq struct {
				Username string `json:"username" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&loginReq); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := auth.Login(loginReq.Username, loginReq.Password)
			if err != nil {
				log.Warn().Str("username", loginReq.Username).Msg("Failed admin login")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	// Protected clinician routes
	api := r.Group("/api")
	api.Use(middleware.CORSMiddleware())
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerOperator(5, 10))
	{
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:sender/history", h.GetSessionHistory)
		api.GET("/stats", h.GetStats)
	}
}

// VerifyWebhook answers the WhatsApp Cloud subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	challenge, ok := usecases.VerifySubscription(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		h.webhooks.VerifyToken,
	)
	if !ok {
		c.String(http.StatusForbidden, "Invalid token")
		return
	}
	c.String(http.StatusOK, challenge)
}

// HandleWhatsAppCloud acknowledges a Cloud API delivery and queues each
// message; replies go out through the Graph send API.
func (h *Handler) HandleWhatsAppCloud(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read WhatsApp webhook body")
		ackWhatsApp(c)
		return
	}

	if h.webhooks.AppSecret != "" &&
		!usecases.VerifyHubSignature(body, c.GetHeader("X-Hub-Signature-256"), h.webhooks.AppSecret) {
		log.Warn().Msg("WhatsApp webhook signature mismatch")
		c.String(http.StatusForbidden, "Invalid signature")
		return
	}

	payload, err := usecases.ParseWhatsAppCloud(body)
	if err != nil {
		log.Warn().Err(err).Msg("Malformed WhatsApp webhook payload")
		ackWhatsApp(c)
		return
	}
	for _, msg := range payload.Messages() {
		if msg.Text != nil {
			msg.Text.Body = SanitizeString(msg.Text.Body)
		}
		if media := firstMedia(msg); media != nil {
			media.Caption = SanitizeString(media.Caption)
		}
		h.messageService.Dispatch(c.Request.Context(), msg)
	}
	ackWhatsApp(c)
}

func firstMedia(m usecases.WhatsAppMessage) *usecases.WhatsAppMedia {
	for _, media := range []*usecases.WhatsAppMedia{m.Image, m.Document, m.Video, m.Audio, m.Sticker} {
		if media != nil {
			return media
		}
	}
	return nil
}

// HandleTwilio answers a Twilio WhatsApp webhook with a TwiML reply.
func (h *Handler) HandleTwilio(c *gin.Context) {
	var payload usecases.TwilioPayload
	if err := c.ShouldBind(&payload); err != nil {
		log.Warn().Err(err).Msg("Failed to bind Twilio form")
		writeTwiML(c, usecases.ApologyText)
		return
	}

	if h.webhooks.TwilioSignature != nil {
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !h.webhooks.TwilioSignature.Valid(h.publicURL(c), params, c.GetHeader("X-Twilio-Signature")) {
			log.Warn().Msg("Twilio webhook signature mismatch")
			c.String(http.StatusForbidden, "Invalid signature")
			return
		}
	}

	payload.Body = SanitizeString(payload.Body)
	writeTwiML(c, h.messageService.Respond(c.Request.Context(), payload))
}

// publicURL rebuilds the URL Twilio signed, which differs from the local one
// behind a proxy.
func (h *Handler) publicURL(c *gin.Context) string {
	base := h.webhooks.PublicBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return strings.TrimRight(base, "/") + c.Request.URL.RequestURI()
}

func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
