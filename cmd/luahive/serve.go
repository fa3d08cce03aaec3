package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/session"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for session management and execution",
		Long: `Start an HTTP server that exposes the session registry.

Endpoints:
  POST   /execute                  Execute code in a throwaway, detached session
  POST   /interpreters             Create session, returns {"handle":N}
  GET    /interpreters             List sessions
  DELETE /interpreters/{handle}    Remove a session (not the current one)
  POST   /interpreters/{handle}/exec  Execute in session (state persists)
  PUT    /current                  Make a session current
  POST   /import                   Import a module into the current session
  POST   /reset                    Clear globals in every session
  GET    /health                   Health check`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("session-ttl", 15*time.Minute, "Remove sessions idle this long (0 disables)")
	return serveCmd
}

type executeRequest struct {
	Code string `json:"code"`
}

type executeResponse struct {
	Output     string `json:"output"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type createRequest struct {
	Include string `json:"include,omitempty"`
	Async   bool   `json:"async,omitempty"`
}

type createResponse struct {
	Handle int    `json:"handle"`
	Error  string `json:"error,omitempty"`
}

type listResponse struct {
	Interpreters []int `json:"interpreters"`
	Current      int   `json:"current"`
	Last         int   `json:"last"`
}

type handleRequest struct {
	Handle int `json:"handle"`
}

type importRequest struct {
	Ref string `json:"ref"`
}

type importResponse struct {
	Location string `json:"location"`
}

type server struct {
	app    *app
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.Mutex
	lastUsed map[session.Handle]time.Time
}

func newServer(a *app, ttl time.Duration) *server {
	s := &server{
		app:      a,
		logger:   a.logger,
		ttl:      ttl,
		lastUsed: make(map[session.Handle]time.Time),
	}
	a.registry.OnCreate(func(h session.Handle, _ *interp.Interpreter) {
		s.touch(h)
	})
	return s
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.execute)
	mux.HandleFunc("POST /interpreters", s.create)
	mux.HandleFunc("GET /interpreters", s.list)
	mux.HandleFunc("DELETE /interpreters/{handle}", s.remove)
	mux.HandleFunc("POST /interpreters/{handle}/exec", s.exec)
	mux.HandleFunc("PUT /current", s.setCurrent)
	mux.HandleFunc("POST /import", s.importModule)
	mux.HandleFunc("POST /reset", s.reset)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return s.withRequestID(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			if v, err := uuid.NewV7(); err == nil {
				id = v.String()
			}
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *server) touch(h session.Handle) {
	s.mu.Lock()
	s.lastUsed[h] = time.Now()
	s.mu.Unlock()
}

// sweep removes sessions idle longer than the TTL. The current session is
// never removed.
func (s *server) sweep(now time.Time) {
	reg := s.app.registry

	s.mu.Lock()
	var idle []session.Handle
	for h, t := range s.lastUsed {
		if reg.GetByHandle(h) == nil {
			delete(s.lastUsed, h)
			continue
		}
		if now.Sub(t) > s.ttl {
			idle = append(idle, h)
		}
	}
	s.mu.Unlock()

	for _, h := range idle {
		if reg.Remove(h) {
			s.logger.Info("removed idle session", "handle", h)
			s.mu.Lock()
			delete(s.lastUsed, h)
			s.mu.Unlock()
		}
	}
}

func (s *server) cleanup(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func handleParam(r *http.Request) (session.Handle, bool) {
	n, err := strconv.Atoi(r.PathValue("handle"))
	if err != nil {
		return 0, false
	}
	return session.Handle(n), true
}

func toExecuteResponse(result interp.Result) executeResponse {
	resp := executeResponse{
		Output:     result.Output,
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		resp.Error = result.Error.Error()
	}
	return resp
}

func (s *server) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	// throwaway sessions never touch the shared registry's handles or
	// current session
	reg := s.app.registry.Detached()
	defer reg.Close()

	h, err := reg.Create(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}
	result := reg.GetByHandle(h).Exec(r.Context(), req.Code)

	writeJSON(w, http.StatusOK, toExecuteResponse(result))
}

func (s *server) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	h, err := s.app.registry.Create(r.Context(), s.app.createOptions(req.Include, req.Async)...)
	if h == 0 {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}

	// the session exists even when its include failed
	resp := createResponse{Handle: int(h)}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	reg := s.app.registry
	handles := reg.Handles()
	resp := listResponse{
		Interpreters: make([]int, len(handles)),
		Current:      int(reg.Current()),
		Last:         int(reg.LastHandle()),
	}
	for i, h := range handles {
		resp.Interpreters[i] = int(h)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) remove(w http.ResponseWriter, r *http.Request) {
	h, ok := handleParam(r)
	if !ok {
		http.Error(w, "invalid handle", http.StatusBadRequest)
		return
	}
	if !s.app.registry.Remove(h) {
		http.Error(w, "session unknown or current", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) exec(w http.ResponseWriter, r *http.Request) {
	h, ok := handleParam(r)
	if !ok {
		http.Error(w, "invalid handle", http.StatusBadRequest)
		return
	}
	in := s.app.registry.GetByHandle(h)
	if in == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req executeRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	s.touch(h)
	writeJSON(w, http.StatusOK, toExecuteResponse(in.Exec(r.Context(), req.Code)))
}

func (s *server) setCurrent(w http.ResponseWriter, r *http.Request) {
	var req handleRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !s.app.registry.SetCurrent(session.Handle(req.Handle)) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) importModule(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Ref == "" {
		http.Error(w, "ref required", http.StatusBadRequest)
		return
	}

	location, err := s.app.registry.Import(r.Context(), req.Ref, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Location: location})
}

func (s *server) reset(w http.ResponseWriter, r *http.Request) {
	s.app.registry.ResetAll(nil)
	w.WriteHeader(http.StatusNoContent)
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	ttl, _ := cmd.Flags().GetDuration("session-ttl")

	a, err := newApp(cmd, nil, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newServer(a, ttl)
	go s.cleanup(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.ErrOrStderr(), "luahive server listening on %s\n", srv.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
