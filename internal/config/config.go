// Package config loads runtime settings from the environment (and an optional .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	ValidateSignature bool
	PublicBaseURL     string
}

func (t TwilioConfig) Enabled() bool { return t.AccountSID != "" && t.AuthToken != "" }

type WhatsAppConfig struct {
	Token         string
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string
	APIBase       string
	SendRPS       float64
}

func (w WhatsAppConfig) Enabled() bool { return w.Token != "" && w.PhoneNumberID != "" }

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

func (c CloudinaryConfig) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

type ModelConfig struct {
	Provider string // groq, gemini or openai
	ModelID  string
	APIKey   string
	BaseURL  string
}

type KnowledgeConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	Collection     string
	Results        int
	EmbeddingModel string
	EmbeddingKey   string
}

func (k KnowledgeConfig) Enabled() bool { return k.Host != "" && k.EmbeddingKey != "" }

type ResearchConfig struct {
	WebSearch     bool
	PubMed        bool
	NCBIAPIKey    string
	PubMedResults int
}

type Config struct {
	Port            string
	RequestMaxBytes int64

	Twilio     TwilioConfig
	WhatsApp   WhatsAppConfig
	Cloudinary CloudinaryConfig
	Model      ModelConfig
	Knowledge  KnowledgeConfig
	Research   ResearchConfig

	SessionDBPath    string
	DatabaseURL      string
	HistoryResponses int

	ReplyDeadline   time.Duration
	AgentTimeout    time.Duration
	SenderQueueSize int
	SenderRate      float64
	SenderBurst     int

	RedisURL string
	DedupTTL time.Duration

	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string

	LogLevel  string
	LogFormat string
}

var defaultModels = map[string]string{
	"groq":   "meta-llama/llama-4-scout-17b-16e-instruct",
	"gemini": "gemini-2.0-flash",
	"openai": "gpt-4o-mini",
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	env := &envParser{}
	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		RequestMaxBytes: int64(env.getInt("REQUEST_MAX_BYTES", 10<<20)),
		Twilio: TwilioConfig{
			AccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
			PhoneNumber:       os.Getenv("TWILIO_PHONE_NUMBER"),
			ValidateSignature: env.getBool("TWILIO_VALIDATE_SIGNATURE", false),
			PublicBaseURL:     strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		},
		WhatsApp: WhatsAppConfig{
			Token:         os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			VerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
			AppSecret:     os.Getenv("WHATSAPP_APP_SECRET"),
			APIBase:       strings.TrimRight(getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v19.0"), "/"),
			SendRPS:       env.getFloat("WHATSAPP_SEND_RPS", 20),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
			APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
			Folder:    getEnv("CLOUDINARY_FOLDER", "derma"),
		},
		Model: ModelConfig{
			Provider: strings.ToLower(getEnv("MODEL_PROVIDER", "groq")),
			ModelID:  os.Getenv("MODEL_ID"),
			BaseURL:  os.Getenv("MODEL_BASE_URL"),
		},
		Knowledge: KnowledgeConfig{
			Host:           os.Getenv("QDRANT_HOST"),
			Port:           env.getInt("QDRANT_PORT", 6334),
			APIKey:         os.Getenv("QDRANT_API_KEY"),
			UseTLS:         env.getBool("QDRANT_USE_TLS", false),
			Collection:     getEnv("KB_COLLECTION", "derma_knowledge"),
			Results:        env.getInt("KB_RESULTS", 4),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
		},
		Research: ResearchConfig{
			WebSearch:     env.getBool("WEB_SEARCH_ENABLED", true),
			PubMed:        env.getBool("PUBMED_ENABLED", true),
			NCBIAPIKey:    os.Getenv("NCBI_API_KEY"),
			PubMedResults: env.getInt("PUBMED_RESULTS", 5),
		},
		SessionDBPath:     getEnv("SESSION_DB_PATH", "./derma_agent.sqlite"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		HistoryResponses:  env.getInt("HISTORY_RESPONSES", 5),
		ReplyDeadline:     env.getDuration("REPLY_DEADLINE", 12*time.Second),
		AgentTimeout:      env.getDuration("AGENT_TIMEOUT", 60*time.Second),
		SenderQueueSize:   env.getInt("SENDER_QUEUE_SIZE", 8),
		SenderRate:        env.getFloat("SENDER_RATE", 0.5),
		SenderBurst:       env.getInt("SENDER_BURST", 5),
		RedisURL:          os.Getenv("REDIS_URL"),
		DedupTTL:          env.getDuration("DEDUP_TTL", 24*time.Hour),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	switch cfg.Model.Provider {
	case "groq":
		cfg.Model.APIKey = os.Getenv("GROQ_API_KEY")
		if cfg.Model.BaseURL == "" {
			cfg.Model.BaseURL = "https://api.groq.com/openai/v1"
		}
	case "gemini":
		cfg.Model.APIKey = os.Getenv("GOOGLE_API_KEY")
	case "openai":
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model.ModelID == "" {
		cfg.Model.ModelID = defaultModels[cfg.Model.Provider]
	}

	return cfg, errors.Join(append(env.errs, cfg.Validate())...)
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := defaultModels[c.Model.Provider]; !ok {
		errs = append(errs, fmt.Errorf("MODEL_PROVIDER %q is not one of groq, gemini, openai", c.Model.Provider))
	} else if c.Model.APIKey == "" {
		errs = append(errs, fmt.Errorf("no API key configured for model provider %s", c.Model.Provider))
	}
	if c.WhatsApp.VerifyToken == "" {
		errs = append(errs, errors.New("WHATSAPP_VERIFY_TOKEN is required"))
	}
	if c.ReplyDeadline <= 0 || c.ReplyDeadline >= 15*time.Second {
		errs = append(errs, fmt.Errorf("REPLY_DEADLINE %s must be positive and below the 15s provider timeout", c.ReplyDeadline))
	}
	if c.SenderQueueSize < 1 {
		errs = append(errs, errors.New("SENDER_QUEUE_SIZE must be at least 1"))
	}
	return errors.Join(errs...)
}

// SetupLogging configures the global zerolog logger.
func (c *Config) SetupLogging() {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

// WarnDisabled logs the optional capabilities left unconfigured.
func (c *Config) WarnDisabled() {
	if !c.Twilio.Enabled() {
		log.Warn().Msg("Twilio credentials missing: media download and late replies on Twilio are disabled")
	}
	if !c.WhatsApp.Enabled() {
		log.Warn().Msg("WhatsApp Cloud credentials missing: /webhook POST will acknowledge but cannot reply")
	}
	if !c.Cloudinary.Enabled() {
		log.Warn().Msg("Cloudinary credentials missing: image turns degrade to text")
	}
	if !c.Knowledge.Enabled() {
		log.Warn().Msg("Knowledge base not configured: search_knowledge_base tool disabled")
	}
	if c.JWTSecret == "" || c.AdminPasswordHash == "" {
		log.Warn().Msg("JWT_SECRET or ADMIN_PASSWORD_HASH missing: admin API disabled")
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// envParser reads typed values; unset keys take the default and malformed
// ones are recorded so FromEnv can reject them.
type envParser struct {
	errs []error
}

func (p *envParser) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *envParser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q is invalid: %w", key, value, err))
}

func (p *envParser) getInt(key string, def int) int {
	raw, ok := p.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *envParser) getFloat(key string, def float64) float64 {
	raw, ok := p.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *envParser) getBool(key string, def bool) bool {
	raw, ok := p.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *envParser) getDuration(key string, def time.Duration) time.Duration {
	raw, ok := p.lookup(key)
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}
