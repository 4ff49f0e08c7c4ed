package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"miroir-agent/handler"
	"miroir-agent/internal/integrations/openai"
	"miroir-agent/internal/integrations/paramstore"
	"miroir-agent/internal/metrics"
	"miroir-agent/internal/repository"
	"miroir-agent/internal/server"
	"miroir-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: envLogLevel("LOG_LEVEL", slog.LevelInfo)}))
	slog.SetDefault(logger)

	apiKey := os.Getenv("OPENAI_API_KEY")
	organization := envFirst("OPENAI_ORGANIZATION", "OPENAI_ORG_ID")
	project := envFirst("OPENAI_PROJECT", "OPENAI_PROJECT_ID")
	model := envOr("OPENAI_MODEL", usecase.DefaultModel)
	baseURL := os.Getenv("OPENAI_BASE_URL")
	timeout := envDuration("OPENAI_TIMEOUT", 0)
	paramPrefix := strings.TrimSpace(os.Getenv("PARAM_PREFIX"))
	readingsTable := strings.TrimSpace(os.Getenv("READINGS_TABLE"))
	localAddr := strings.TrimSpace(os.Getenv("LOCAL_ADDR"))

	// ---- AWS SDK config (only when an AWS-backed feature is on) ----
	var awsCfg aws.Config
	if (apiKey == "" && paramPrefix != "") || readingsTable != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		awsCfg = cfg
	}

	// ---- Clients ----
	openaiOpts := []openai.Option{
		openai.WithAPIKey(apiKey),
		openai.WithOrganization(organization),
		openai.WithProject(project),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(baseURL))
	}
	if apiKey == "" && paramPrefix != "" {
		tokens, err := paramstore.NewTokenSource(awsssm.NewFromConfig(awsCfg), paramstore.TokenParameterName(paramPrefix))
		if err != nil {
			slog.Error("failed to create SSM token source", "err", err)
			os.Exit(1)
		}
		openaiOpts = append(openaiOpts, openai.WithKeySource(tokens))
	}
	if apiKey == "" && paramPrefix == "" {
		slog.Warn("no OpenAI credential configured; POST requests will fail", "env", "OPENAI_API_KEY")
	}
	openaiClient := openai.NewClient(openaiOpts...)

	var journal usecase.Journal
	if readingsTable != "" {
		j, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), readingsTable)
		if err != nil {
			slog.Error("failed to create readings journal", "err", err)
			os.Exit(1)
		}
		journal = j
	}

	// ---- Handler ----
	mirrorService, err := usecase.NewMirrorService(openaiClient, journal, model)
	if err != nil {
		slog.Error("failed to create mirror service", "err", err)
		os.Exit(1)
	}

	if localAddr == "" {
		h, err := handler.NewHandler(mirrorService)
		if err != nil {
			slog.Error("failed to create handler", "err", err)
			os.Exit(1)
		}
		lambda.Start(h.Handle)
		return
	}

	collector := metrics.NewCollector(nil)
	h, err := handler.NewHandler(mirrorService, handler.WithRecorder(collector))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}
	serveLocal(localAddr, server.New(h.Handle, collector.Handler(), logger), logger)
}

type echoServer interface {
	Start(address string) error
	Shutdown(ctx context.Context) error
}

func serveLocal(addr string, e echoServer, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		logger.Info("starting local server", "addr", addr, "path", server.MirrorPath)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return def
	}
	return d
}

func envLogLevel(key string, def slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envOr(key, def.String()))); err != nil {
		return def
	}
	return level
}
