package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dermabot/internal/agent"
	"dermabot/internal/config"
	"dermabot/internal/entities"
	"dermabot/internal/infrastructure"
	"dermabot/internal/interfaces"
	"dermabot/internal/interfaces/http"
	"dermabot/internal/repository"
	"dermabot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dermabot",
	Short: "Dermatology assistant for WhatsApp (Cloud API and Twilio)",
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE:  runServe,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := ""
		if len(args) == 1 {
			password = args[0]
		} else {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		hash, err := usecases.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, hashPasswordCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.SetupLogging()
	cfg.WarnDisabled()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session database
	db, err := infrastructure.OpenDatabase(ctx, cfg.DatabaseURL, cfg.SessionDBPath)
	if err != nil {
		return fmt.Errorf("failed to open session database: %w", err)
	}
	defer db.Close()

	historyRepo := repository.NewHistoryRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	// Reasoning engine
	model, err := agent.NewModel(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to create chat model: %w", err)
	}
	tools := []agent.Tool{agent.ClinicalInputTool{}}
	if cfg.Knowledge.Enabled() {
		embedder, err := agent.NewEmbedder(cfg.Knowledge)
		if err != nil {
			return err
		}
		kb, err := agent.NewQdrantKnowledgeBase(cfg.Knowledge, embedder)
		if err != nil {
			return err
		}
		defer kb.Close()
		tools = append(tools, agent.KnowledgeSearchTool{KB: kb})
	}
	if cfg.Research.WebSearch {
		tools = append(tools, agent.NewWebSearchTool(""))
	}
	if cfg.Research.PubMed {
		tools = append(tools, agent.NewPubMedTool("", cfg.Research.NCBIAPIKey, cfg.Research.PubMedResults))
	}
	agentOpts := agent.DefaultOptions()
	agentOpts.HistoryResponses = cfg.HistoryResponses
	dermaAgent := agent.NewDermaAgent(model, historyRepo, agentOpts, tools...)

	// Media pipeline
	fetcher := infrastructure.NewHTTPMediaFetcher(
		cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.WhatsApp.Token, cfg.WhatsApp.APIBase)
	var relay interfaces.MediaRelay
	if cfg.Cloudinary.Enabled() {
		relay, err = infrastructure.NewCloudinaryRelay(
			cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Folder)
		if err != nil {
			return fmt.Errorf("failed to configure image host: %w", err)
		}
	}

	// Outbound messengers for asynchronous and late replies
	messengers := map[entities.Provider]interfaces.Messenger{}
	if cfg.WhatsApp.Enabled() {
		messengers[entities.ProviderWhatsAppCloud] = infrastructure.NewWhatsAppCloudClient(
			cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.APIBase, cfg.WhatsApp.SendRPS)
	}
	if cfg.Twilio.Enabled() && cfg.Twilio.PhoneNumber != "" {
		messengers[entities.ProviderTwilio] = infrastructure.NewTwilioMessenger(
			cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
	}

	// Delivery dedup
	var deduper interfaces.Deduper
	if cfg.RedisURL != "" {
		rd, err := infrastructure.NewRedisDeduper(ctx, cfg.RedisURL, cfg.DedupTTL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory dedup")
		} else {
			defer rd.Close()
			deduper = rd
		}
	}
	if deduper == nil {
		md := infrastructure.NewMemoryDeduper(cfg.DedupTTL)
		defer md.Stop()
		deduper = md
	}

	router := infrastructure.NewSessionRouter(cfg.SenderQueueSize, 10*time.Minute)
	limiter := infrastructure.NewSenderLimiter(cfg.SenderRate, cfg.SenderBurst)
	defer limiter.Stop()

	messageService := usecases.NewMessageService(usecases.Dependencies{
		Router:     router,
		Sessions:   historyRepo,
		Invoker:    usecases.NewAgentInvoker(dermaAgent, cfg.AgentTimeout),
		Fetcher:    fetcher,
		Relay:      relay,
		Messengers: messengers,
		Deduper:    deduper,
		Limiter:    limiter,
		Usage:      usageRepo,
	}, cfg.ReplyDeadline, cfg.AgentTimeout+time.Minute)

	authUsecase := usecases.NewAuthUsecase(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret)
	dashboardUsecase := usecases.NewDashboardUsecase(historyRepo, usageRepo, router, limiter)

	webhooks := http.WebhookConfig{
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		AppSecret:     cfg.WhatsApp.AppSecret,
		PublicBaseURL: cfg.Twilio.PublicBaseURL,
	}
	if cfg.Twilio.ValidateSignature && cfg.Twilio.AuthToken != "" {
		webhooks.TwilioSignature = infrastructure.NewTwilioSignatureValidator(cfg.Twilio.AuthToken)
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler := http.NewHandler(messageService, dashboardUsecase, webhooks, db.Ping)
	http.SetupRoutes(engine, handler, authUsecase, http.NewMiddleware(cfg.JWTSecret), cfg.RequestMaxBytes)

	srv := &nethttp.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("model", cfg.Model.ModelID).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := messageService.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending replies abandoned")
	}
	router.Stop()
	return nil
}
