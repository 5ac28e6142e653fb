package main

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/handler"
	"chatsync/internal/domain"
	"chatsync/internal/integrations/backend"
	"chatsync/internal/integrations/paramstore"
	"chatsync/internal/integrations/preview"
	"chatsync/internal/integrations/realtime"
	"chatsync/internal/integrations/uploads"
	"chatsync/internal/metrics"
	"chatsync/internal/recovery"
	"chatsync/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "err", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	backendURL := mustEnv("BACKEND_BASE_URL")
	realtimeURL := mustEnv("REALTIME_URL")
	paramPrefix := mustEnv("PARAM_PREFIX")
	prefsTable := mustEnv("PREFS_TABLE")
	uploadBucket := mustEnv("UPLOAD_BUCKET")
	uploadPrefix := os.Getenv("UPLOAD_PREFIX")
	identities := domain.Identities{UserID: mustEnv("USER_ID"), AssistantID: mustEnv("ASSISTANT_ID")}
	conversationID := os.Getenv("CONVERSATION_ID")
	previewDir := os.Getenv("PREVIEW_DIR")
	metricsAddr := os.Getenv("METRICS_ADDR")
	historyTimeout := time.Duration(envInt("HISTORY_TIMEOUT_SECONDS", 10)) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	prefsClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), prefsTable)
	if err != nil {
		slog.Error("failed to create preferences client", "err", err)
		os.Exit(1)
	}
	uploadClient, err := uploads.NewFromS3(awss3.NewFromConfig(cfg), uploadBucket, uploadPrefix)
	if err != nil {
		slog.Error("failed to create upload client", "err", err)
		os.Exit(1)
	}
	backendClient, err := backend.NewClient(ssmClient, paramPrefix, backendURL, backend.WithHistoryTimeout(historyTimeout))
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		os.Exit(1)
	}
	dialer, err := realtime.NewDialer(realtimeURL, realtime.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("failed to create realtime dialer", "err", err)
		os.Exit(1)
	}
	renderer, err := preview.NewRenderer(previewDir)
	if err != nil {
		slog.Error("failed to create preview renderer", "err", err)
		os.Exit(1)
	}

	// ---- Metrics ----
	collector, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}
	if metricsAddr != "" {
		go serveMetrics(ctx, metricsAddr)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(logHost{}, handler.Config{
		Dialer:      dialer,
		History:     backendClient,
		Preferences: prefsClient,
		Identities:  identities,
		Uploader:    uploadClient,
		Previewer:   renderer,
		Submitter:   backendClient,
		Metrics:     collector,
	})
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}
	defer h.Close()

	if conversationID != "" {
		if err := h.Open(ctx, conversationID); err != nil {
			slog.Error("failed to open conversation", "conversation_id", conversationID, "err", err)
		}
	}
	runREPL(ctx, h)
}

// runREPL sends each stdin line as a message. Lines starting with "/" are
// commands: /open <id>, /image <path> [text], /retry, /reset, /mint.
func runREPL(ctx context.Context, h *handler.Handler) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/open":
			err = h.Open(ctx, rest)
		case "/image":
			path, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
			err = h.Send(ctx, text, path)
		case "/retry":
			err = h.Retry(ctx)
		case "/reset":
			h.ResetRetries()
		case "/mint":
			err = h.MarkMinted(ctx)
		default:
			err = h.Send(ctx, line)
		}
		if err != nil {
			slog.Error("command failed", "command", cmd, "err", err)
		}
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "err", err)
	}
}

// logHost renders engine output as structured log lines.
type logHost struct{}

func (logHost) ScrollToBottom(bool) {}

func (logHost) SetNewMessagesAffordance(visible bool) {
	if visible {
		slog.Info("new messages below")
	}
}

func (logHost) RenderMessages(conversationID string, messages []domain.Message) {
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	slog.Info("message",
		"conversation_id", conversationID,
		"role", last.Role,
		"optimistic", last.IsOptimistic,
		"attachments", len(last.Attachments),
		"text", last.Content,
	)
}

func (logHost) RenderSession(conversationID string, s domain.ConversationSession) {
	attrs := []any{"conversation_id", conversationID, "typing", s.IsTyping, "generating", s.IsGenerating, "hydrated", s.Hydrated}
	if s.SelectedVariation != nil {
		attrs = append(attrs, "selected", s.SelectedVariation.Token)
	}
	slog.Debug("session", attrs...)
}

func (logHost) ShowError(st recovery.Status) {
	if !st.Visible() {
		return
	}
	slog.Error("error", "message", st.Message, "can_retry", st.CanRetry, "attempts", st.Attempts)
}

func (logHost) ConversationUpdated(conversationID string) {
	slog.Debug("conversation updated", "conversation_id", conversationID)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
