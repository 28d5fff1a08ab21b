package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-relay/internal/ingest"
	"github.com/sells-group/lead-relay/pkg/telegram"
)

// leadIDField is the form key amoCRM uses for the lead in a status change
// notification.
const leadIDField = "leads[status][0][id]"

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CRM webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initRelay(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		env.CRM.Start()
		logBotIdentity(ctx, env.Telegram)

		hook := newWebhook(env.Ingestor)
		port := resolvePort(servePort, cfg.Server.Port)
		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second

		err = startServer(ctx, buildRouter(hook, cfg.Server.AllowedOrigins...), port, shutdownTimeout)

		// In-flight invocations still use the CRM client; drain them first.
		zap.L().Info("waiting for in-flight leads")
		hook.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// processor runs one lead invocation.
type processor interface {
	Process(ctx context.Context, leadID int64) ingest.Result
}

// webhook acknowledges lead notifications immediately and processes them
// in the background.
type webhook struct {
	proc processor
	wg   sync.WaitGroup
}

func newWebhook(proc processor) *webhook {
	return &webhook{proc: proc}
}

// Wait blocks until every accepted invocation has finished.
func (h *webhook) Wait() {
	h.wg.Wait()
}

func (h *webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	raw := r.FormValue(leadIDField)
	leadID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || leadID <= 0 {
		log.Warn("webhook: notification without a valid lead id", zap.String("raw", raw))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	invocation := uuid.NewString()
	log.Info("webhook: lead status changed",
		zap.Int64("lead_id", leadID),
		zap.String("invocation_id", invocation),
	)

	if h.proc != nil {
		// r.Context() is canceled as soon as the handler returns.
		ctx := context.WithoutCancel(r.Context())
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			res := h.proc.Process(ctx, leadID)
			log.Info("webhook: invocation finished",
				zap.Int64("lead_id", leadID),
				zap.String("invocation_id", invocation),
				zap.String("status", string(res.Status)),
				zap.Duration("duration", res.Duration),
			)
		}()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// buildRouter wires the HTTP routes and middleware.
func buildRouter(hook http.Handler, allowedOrigins ...string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if hook != nil {
		r.Method(http.MethodPost, "/webhook", hook)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("remote", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func logBotIdentity(ctx context.Context, tg telegram.Client) {
	if tg == nil {
		return
	}
	me, err := tg.GetMe(ctx)
	if err != nil {
		zap.L().Warn("telegram bot identity lookup failed", zap.Error(err))
		return
	}
	zap.L().Info("telegram bot ready", zap.Int64("bot_id", me.ID), zap.String("username", "@"+me.Username))
}
