package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/SynergyChain/synledger-core/core"
)

// ChainStatus summarizes the canonical chain.
type ChainStatus struct {
	Length     int    `json:"length"`
	Height     uint64 `json:"height"`
	Tip        string `json:"tip"`
	Difficulty uint64 `json:"difficulty"`
	Forks      int    `json:"forks"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Registry                core.Stats      `json:"registry"`
	Parameters              core.Parameters `json:"parameters"`
	EffectiveConversionRate float64         `json:"effectiveConversionRate"`
	Chain                   ChainStatus     `json:"chain"`
}

// ParticipantResponse is the body of GET /participants/{id}.
type ParticipantResponse struct {
	core.Participant
	core.Valuation
}

// Server exposes the ledger and registry read side over HTTP.
type Server struct {
	ledger   *core.Ledger
	registry *core.Registry
	gatherer prometheus.Gatherer

	limiter *rate.Limiter
	events  *hub
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit bounds the request rate across all routes.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(r, burst) }
}

// WithGatherer serves g on /metrics. Without it /metrics is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer returns a Server exposing ledger and registry.
func NewServer(ledger *core.Ledger, registry *core.Registry, opts ...Option) *Server {
	s := &Server{
		ledger:   ledger,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/100), 100),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = newHub(s.log)
	return s
}

// Handler returns the routed, rate limited handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chain", s.handleChain)
	mux.HandleFunc("GET /forks", s.handleForks)
	mux.HandleFunc("GET /validate", s.handleValidate)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /participants/{id}", s.handleParticipant)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.rateLimit(mux)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.log.Warn("Rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Publish streams round to every /events subscriber.
func (s *Server) Publish(round *core.Round) {
	data, err := json.Marshal(round)
	if err != nil {
		s.log.Error("Failed to marshal round", "error", err)
		return
	}
	s.events.publish(data)
}

// Close disconnects every /events subscriber.
func (s *Server) Close() {
	s.events.close()
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Chain())
}

func (s *Server) handleForks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Forks())
}

func (s *Server) handleValidate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": s.ledger.ValidateChain()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	length, tip := s.ledger.Tip()
	writeJSON(w, http.StatusOK, StatsResponse{
		Registry:                s.registry.Statistics(),
		Parameters:              s.registry.Parameters(),
		EffectiveConversionRate: s.registry.EffectiveConversionRate(),
		Chain: ChainStatus{
			Length:     length,
			Height:     uint64(length - 1),
			Tip:        tip,
			Difficulty: s.ledger.Difficulty(),
			Forks:      len(s.ledger.Forks()),
		},
	})
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}
	p, err := s.registry.Participant(id)
	if errors.Is(err, core.ErrUnknownParticipant) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	v, err := s.registry.Value(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ParticipantResponse{Participant: p, Valuation: v})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
