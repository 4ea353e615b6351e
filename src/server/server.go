// Package server is the HTTP front of the warm transfer agent. It answers
// incoming calls with a media stream, accepts the media websockets of both
// call legs, receives dial status callbacks and serves health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/square-key-labs/strawgo-transfer/src/audio"
	"github.com/square-key-labs/strawgo-transfer/src/config"
	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
	"github.com/square-key-labs/strawgo-transfer/src/telephony"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
	"github.com/square-key-labs/strawgo-transfer/src/transports"
)

// Telephony places specialist calls and hangs up calls
type Telephony interface {
	transfer.Dialer
	transfer.CallHanger
}

// Options configures a Server
type Options struct {
	Config    *config.Config
	Telephony Telephony
	Services  ServicesFunc

	// HoldMusic is cloned for every session. Nil plays silence.
	HoldMusic *audio.HoldMusic

	// Registry collects the metrics. Nil uses a new registry.
	Registry *prometheus.Registry

	// StartTimeout bounds how long a media stream waits for its session's
	// pipeline to start
	StartTimeout time.Duration
}

// Server routes calls to their sessions
type Server struct {
	cfg          *config.Config
	telephony    Telephony
	services     ServicesFunc
	music        *audio.HoldMusic
	registry     *prometheus.Registry
	metrics      *transfer.Metrics
	sessions     *Registry
	upgrader     websocket.Upgrader
	signatures   *telephony.SignatureChecker
	startTimeout time.Duration
	log          *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.HoldMusic == nil {
		opts.HoldMusic = audio.NewHoldMusic(nil)
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          opts.Config,
		telephony:    opts.Telephony,
		services:     opts.Services,
		music:        opts.HoldMusic,
		registry:     opts.Registry,
		metrics:      transfer.NewMetrics(opts.Registry),
		sessions:     NewRegistry(),
		startTimeout: opts.StartTimeout,
		log:          logger.WithPrefix("Server"),
		ctx:          ctx,
		cancel:       cancel,
		upgrader: websocket.Upgrader{
			// Twilio does not send an Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if opts.Config.Twilio.ValidateSignatures {
		s.signatures = telephony.NewSignatureChecker(opts.Config.Twilio.AuthToken, opts.Config.Server.PublicURL)
	}
	return s
}

// Sessions returns the live session registry
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	authToken := ""
	if s.signatures != nil {
		authToken = s.cfg.Twilio.AuthToken
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/incoming", s.handleIncoming)
	mux.HandleFunc("/media", s.handleMedia)
	mux.Handle("/dial-status", telephony.NewStatusHandler(s.sessions, authToken, s.cfg.Server.PublicURL))
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe serves on the configured port until ctx ends, then ends
// all sessions
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening on port %d (public %s)", s.cfg.Server.Port, s.cfg.Server.PublicURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels every session and waits for their pipelines to stop
func (s *Server) Shutdown() {
	s.cancel()
	for _, sess := range s.sessions.all() {
		<-sess.Done()
	}
}

// handleIncoming answers a call to the agent's number with a new session
// and the TwiML that streams the call to /media
func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if s.signatures != nil && !s.signatures.Valid(r) {
		s.log.Warn("Rejected incoming call with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	sessionID := uuid.NewString()
	from := r.Form.Get("From")
	twiml, err := telephony.CallerTwiML(telephony.MediaStreamURL(s.cfg.Server.PublicURL), sessionID, from)
	if err != nil {
		s.log.Error("Failed to build TwiML: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.log.Info("Incoming call %s from %s, session %s", r.Form.Get("CallSid"), from, sessionID)
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(twiml))
}

// handleMedia upgrades a Twilio media stream and serves it as a leg of its
// session. A caller stream creates the session; a specialist stream joins
// an existing one.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade connection: %v", err)
		return
	}

	ser, start, err := transports.ReadStart(conn)
	if err != nil {
		s.log.Warn("Media stream from %s never started: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}

	sessionID := start.Params[telephony.ParamSession]
	if sessionID == "" {
		s.log.Warn("Media stream %s has no session parameter", start.StreamSid)
		conn.Close()
		return
	}

	sess, err := s.sessionFor(sessionID, start.Leg)
	if err != nil {
		s.log.Warn("Rejecting %s stream %s: %v", start.Leg, start.StreamSid, err)
		conn.Close()
		return
	}

	select {
	case <-sess.ready:
	case <-sess.Done():
		conn.Close()
		return
	case <-time.After(s.startTimeout):
		s.log.Error("Session %s did not start in time", sessionID)
		conn.Close()
		return
	}

	if err := sess.transport.Serve(r.Context(), conn, ser, start); err != nil {
		s.log.Warn("%s stream of session %s: %v", start.Leg, sessionID, err)
	}
}

var errNoSession = errors.New("no such session")

// sessionFor finds the session of a stream, starting it for a caller
func (s *Server) sessionFor(id string, leg frames.Leg) (*Session, error) {
	if leg != frames.LegCaller {
		sess, ok := s.sessions.Get(id)
		if !ok {
			return nil, errNoSession
		}
		return sess, nil
	}

	sess, created, err := s.sessions.getOrCreate(id, func() (*Session, error) {
		return s.newSession(s.ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.SessionStarted()
		s.log.Info("Session %s started", id)
		go sess.run(s.ctx, func() {
			s.sessions.remove(id)
			s.metrics.SessionEnded()
		})
	}
	return sess, nil
}

type sessionResponse struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	Closed          bool   `json:"closed"`
	Target          string `json:"target,omitempty"`
	Summary         string `json:"summary,omitempty"`
	DialoutAttempts int    `json:"dialout_attempts"`
	CallerConnected bool   `json:"caller_connected"`
	AgentConnected  bool   `json:"agent_connected"`
	HoldMusic       bool   `json:"hold_music"`
	HoldAudio       string `json:"hold_audio,omitempty"`
	BotAudioRoute   string `json:"bot_audio_route"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	snap := sess.Transfer()
	resp := sessionResponse{
		ID:              snap.ID,
		State:           snap.State.String(),
		Closed:          snap.Closed,
		Summary:         snap.Summary,
		DialoutAttempts: snap.DialoutAttempts,
		CallerConnected: sess.transport.Connected(frames.LegCaller),
		AgentConnected:  sess.transport.Connected(frames.LegSpecialist),
		HoldMusic:       sess.transport.MixerOn(),
		HoldAudio:       string(sess.transport.HoldAudio()),
		BotAudioRoute:   string(sess.transport.Route()),
	}
	if snap.Target != nil {
		resp.Target = snap.Target.Name
	}
	writeJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[Server] Failed to write response: %v", err)
	}
}
