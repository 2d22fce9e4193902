// Package server is an in-memory game backend that speaks the same REST and
// websocket protocol as the production service. It owns encounter and combat
// state authoritatively and broadcasts canonical updates to every peer joined
// to an encounter.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/tableroom/internal/auth/token"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/platform/id"
	"github.com/louisbranch/tableroom/internal/platform/requestctx"
	"github.com/louisbranch/tableroom/internal/platform/timeouts"
)

// Config defines the reference backend settings.
type Config struct {
	HTTPAddr string
	// TokenSecret enables HS256 verification of bearer tokens. Without it
	// tokens are read unverified and anonymous callers are allowed.
	TokenSecret string
	// Seed loads the demo session, encounters, and notifications.
	Seed              bool
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Now               func() time.Time
	Logf              func(string, ...any)
}

// Server hosts the reference backend.
type Server struct {
	httpAddr        string
	httpServer      *http.Server
	shutdownTimeout time.Duration
	hub             *roomHub
	tokenKey        []byte
	newID           func() (string, error)
	logf            func(string, ...any)
}

// NewHandler builds the backend routes without a listener, for tests and
// embedding.
func NewHandler(config Config) http.Handler {
	return newServer(config).Handler()
}

// NewServer builds a configured backend.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	s := newServer(config)
	s.httpAddr = httpAddr
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout(config),
	}
	return s, nil
}

func newServer(config Config) *Server {
	logf := config.Logf
	if logf == nil {
		logf = log.Printf
	}
	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = timeouts.Shutdown
	}
	s := &Server{
		shutdownTimeout: shutdownTimeout,
		hub:             newRoomHub(config.Now),
		newID:           id.NewID,
		logf:            logf,
	}
	if secret := strings.TrimSpace(config.TokenSecret); secret != "" {
		s.tokenKey = []byte(secret)
	}
	if config.Seed {
		seedDemo(s.hub)
	}
	return s
}

func (s *Server) readHeaderTimeout(config Config) time.Duration {
	if config.ReadHeaderTimeout > 0 {
		return config.ReadHeaderTimeout
	}
	return timeouts.ReadHeader
}

// Handler returns every route. It is exported for httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /dev/tokens", s.handleIssueToken)

	mux.HandleFunc("GET /sessions/{sessionID}", s.authed(s.handleGetSession))
	mux.HandleFunc("POST /encounters", s.authed(s.handleCreateEncounter))
	mux.HandleFunc("GET /encounters/{encounterID}", s.authed(s.handleGetEncounter))
	mux.HandleFunc("POST /encounters/{encounterID}/participants", s.authed(s.handleAddParticipant))
	mux.HandleFunc("DELETE /encounters/{encounterID}/participants/{participantID}", s.authed(s.handleRemoveParticipant))
	mux.HandleFunc("PUT /encounters/{encounterID}/health/{participantID}", s.authed(s.handleSetHealth))
	mux.HandleFunc("GET /encounters/{encounterID}/combat", s.authed(s.handleGetCombat))
	mux.HandleFunc("POST /encounters/{encounterID}/combat/start", s.authed(s.handleStartCombat))
	mux.HandleFunc("POST /encounters/{encounterID}/combat/next-turn", s.authed(s.handleNextTurn))
	mux.HandleFunc("POST /encounters/{encounterID}/combat/end", s.authed(s.handleEndCombat))
	mux.HandleFunc("POST /encounters/{encounterID}/combat/actions", s.authed(s.handlePerformAction))
	mux.HandleFunc("POST /users/{userID}/notifications", s.authed(s.handlePushNotification))
	mux.HandleFunc("POST /system-notifications", s.authed(s.handleSystemNotification))

	// websocket.Server with no Handshake skips the origin check; room
	// clients are not browsers and send no Origin header.
	encounterWS := websocket.Server{Handler: s.handleEncounterConn}
	notificationWS := websocket.Server{Handler: s.handleNotificationConn}
	mux.HandleFunc("GET /ws/encounters/{encounterID}", s.upgrade(s.prepareEncounterConn, encounterWS))
	mux.HandleFunc("GET /ws/notifications", s.upgrade(s.prepareNotificationConn, notificationWS))
	return mux
}

// Run starts the backend and blocks until ctx ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init roomsim server: %w", err)
	}
	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve roomsim: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return errors.New("roomsim server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	s.logf("roomsim server listening on %s", s.httpAddr)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func accessTokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// authenticate resolves the caller. With a signing key the token is
// mandatory and verified; without one it is optional and unverified.
func (s *Server) authenticate(r *http.Request) (requestctx.Identity, error) {
	raw := accessTokenFromRequest(r)
	if s.tokenKey == nil {
		if raw == "" {
			return requestctx.Identity{}, nil
		}
		claims, err := token.Inspect(raw, s.hub.now)
		if err != nil {
			return requestctx.Identity{}, nil
		}
		return requestctx.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
	}
	if raw == "" {
		return requestctx.Identity{}, apperrors.New(apperrors.CodeActionUnauthorized, "authentication required")
	}
	claims, err := token.Verify(raw, s.tokenKey, s.hub.now)
	if err != nil {
		return requestctx.Identity{}, err
	}
	return requestctx.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, err := s.authenticate(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(requestctx.WithIdentity(r.Context(), who)))
	}
}

// upgrade authenticates, lets prepare validate the request, then hands the
// connection to ws.
func (s *Server) upgrade(prepare func(*http.Request, requestctx.Identity) (context.Context, error), ws websocket.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, err := s.authenticate(r)
		if err != nil {
			s.logf("roomsim: websocket unauthorized path=%q remote=%s: %v", r.URL.Path, r.RemoteAddr, err)
			s.writeError(w, err)
			return
		}
		ctx, err := prepare(r, who)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ws.ServeHTTP(w, r.WithContext(ctx))
	}
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.tokenKey == nil {
		s.writeError(w, apperrors.New(apperrors.CodeNotFound, "token issuing is disabled"))
		return
	}
	var req struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	signed, err := token.Issue(token.Claims{UserID: req.UserID, DisplayName: req.DisplayName}, s.tokenKey, s.hub.now(), 12*time.Hour)
	if err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeActionRejected, "issue token", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": signed})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeProtocolMalformed, "invalid request body", err))
		return false
	}
	return true
}

// writeError answers with the status for err's code and a {"message"} body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.CodeOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logf("roomsim: request failed: %v", err)
	}
	message := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	writeJSON(w, status, map[string]string{"message": message, "code": string(apperrors.CodeOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
