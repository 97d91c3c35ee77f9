package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OpenPrinting/go-mfp/util/uuid"
	"github.com/grandcat/zeroconf"

	"github.com/mzyy94/pkpgcounter/internal/analyzer"
	"github.com/mzyy94/pkpgcounter/internal/config"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
	"github.com/mzyy94/pkpgcounter/internal/server"
)

func main() {
	logLevel := parseLogLevel(envStr("PKPGCOUNTER_LOG_LEVEL", "info"))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Parse configuration from environment variables
	listenPort := envInt("PKPGCOUNTER_LISTEN_PORT", 8631)
	dataDir := os.Getenv("PKPGCOUNTER_DATA_DIR")
	name := os.Getenv("PKPGCOUNTER_NAME")
	mdns := envBool("PKPGCOUNTER_MDNS", true)

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	if name == "" {
		name = "pkpgcounter on " + host
	}
	instanceUUID := uuid.SHA1(uuid.NameSpaceDNS, "pkpgcounter."+host)

	// Settings persist under the data directory when one is given
	store := config.NewMemoryStore()
	if dataDir != "" {
		store, err = config.NewStore(dataDir)
		if err != nil {
			slog.Error("failed to open settings", "dir", dataDir, "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	handler := server.NewHandler(server.Options{
		Name:       name,
		Version:    analyzer.Version,
		UUID:       instanceUUID,
		ListenPort: listenPort,
		Settings:   store,
	})

	addr := fmt.Sprintf(":%d", listenPort)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     logMiddleware(handler),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Start mDNS advertisement
	if mdns {
		mdnsServer, err := zeroconf.Register(
			name,
			"_pkpgcounter._tcp",
			"local.",
			listenPort,
			[]string{
				"txtvers=1",
				"version=" + analyzer.Version,
				"uuid=" + instanceUUID.String(),
				"formats=" + formatIDs(),
				"rp=ipp/print",
			},
			nil,
		)
		if err != nil {
			slog.Error("mDNS registration failed", "err", err)
			os.Exit(1)
		}
		defer mdnsServer.Shutdown()
		slog.Info("mDNS registered", "name", name, "service", "_pkpgcounter._tcp")
	}

	// Start HTTP server
	go func() {
		slog.Info("pkpgcounterd starting", "addr", addr, "version", analyzer.Version, "uuid", instanceUUID.String())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// formatIDs joins the format identifiers for the TXT record, which is
// limited to 255 bytes per string.
func formatIDs() string {
	var ids []string
	n := len("formats=")
	for _, d := range pdl.Formats() {
		if n+len(d.ID)+1 > 255 {
			break
		}
		ids = append(ids, d.ID)
		n += len(d.ID) + 1
	}
	return strings.Join(ids, ",")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
