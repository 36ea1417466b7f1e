package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	httpShutdownTimeout = 5 * time.Second
	maxRequestBytes     = 32 << 20
)

// Authorizer decides whether a remote address may use a transport.
type Authorizer interface {
	Allow(ctx context.Context, remoteAddr string) error
}

// HTTPOptions configures the HTTP transport. A nil Authorizer admits every
// remote address; browser requests are refused unless their Origin is listed
// in AllowedOrigins.
type HTTPOptions struct {
	Metrics        http.Handler
	Authorizer     Authorizer
	AllowedOrigins []string
}

// NewHTTPHandler serves JSON-RPC on POST /mcp, a liveness probe on
// GET /health and, when opts.Metrics is non-nil, GET /metrics.
func NewHTTPHandler(server *Server, opts HTTPOptions) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		handleMCP(server, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": server.version})
	})
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	return guardHTTP(server, opts, mux)
}

// guardHTTP applies the remote address and Origin checks to every route.
func guardHTTP(server *Server, opts HTTPOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Authorizer != nil {
			if err := opts.Authorizer.Allow(r.Context(), r.RemoteAddr); err != nil {
				server.logWarn("http_unauthorized", "remote", r.RemoteAddr, "error", err)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			if !originAllowed(opts.AllowedOrigins, origin) {
				server.logWarn("http_origin_rejected", "remote", r.RemoteAddr, "origin", origin)
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			setCORSHeaders(w, origin)
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP listens on addr until ctx is cancelled, then shuts down
// gracefully.
func ServeHTTP(ctx context.Context, server *Server, addr string, opts HTTPOptions) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           NewHTTPHandler(server, opts),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	server.logInfo("http_listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func handleMCP(server *Server, w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	resp := server.Handle(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		server.logWarn("http_write_failed", "error", err)
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimRight(strings.TrimSpace(a), "/"), origin) {
			return true
		}
	}
	return false
}

func setCORSHeaders(w http.ResponseWriter, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Add("Vary", "Origin")
}
