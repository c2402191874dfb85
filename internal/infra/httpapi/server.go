package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vault_payday/internal/app"
	"vault_payday/internal/infra/presence"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Server exposes the host-facing surface: lifecycle and payment events in,
// admin overrides and progress/stats reads out.
type Server struct {
	registry    *presence.Registry
	cache       *app.Cache
	interceptor *app.Interceptor
	admin       *app.AdminService
	logger      *logrus.Logger
}

func NewServer(registry *presence.Registry, cache *app.Cache, interceptor *app.Interceptor, admin *app.AdminService, logger *logrus.Logger) *Server {
	return &Server{
		registry:    registry,
		cache:       cache,
		interceptor: interceptor,
		admin:       admin,
		logger:      logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/events/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /v1/events/payment", s.handlePayment)
	mux.HandleFunc("POST /v1/admin/reset", s.handleReset)
	mux.HandleFunc("POST /v1/admin/settime", s.handleSetTime)
	mux.HandleFunc("POST /v1/admin/backup", s.handleBackup)
	mux.HandleFunc("GET /v1/principals/{identity}", s.handleInfo)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	return mux
}

type connectRequest struct {
	Identity    string   `json:"identity"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	identity, ok := s.decode(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	s.registry.Connect(identity, req.Name, req.Permissions)
	s.cache.OnConnect(identity, req.Name)
	w.WriteHeader(http.StatusAccepted)
}

type disconnectRequest struct {
	Identity string `json:"identity"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	identity, ok := s.decode(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	s.registry.Disconnect(identity)
	s.cache.OnDisconnect(r.Context(), identity)
	w.WriteHeader(http.StatusAccepted)
}

type paymentRequest struct {
	Identity string  `json:"identity"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Source   string  `json:"source"`
	Zone     string  `json:"zone"`
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	identity, ok := s.decode(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	intercepted := s.interceptor.HandlePayment(r.Context(), app.Payment{
		Identity: identity,
		Name:     req.Name,
		Amount:   req.Amount,
		Source:   req.Source,
		Zone:     req.Zone,
	})
	s.writeJSON(w, http.StatusOK, map[string]bool{"intercepted": intercepted})
}

type resetRequest struct {
	Identity string `json:"identity"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	identity, ok := s.decode(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	if err := s.admin.Reset(r.Context(), identity); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setTimeRequest struct {
	Identity string `json:"identity"`
	Minutes  int64  `json:"minutes"`
}

func (s *Server) handleSetTime(w http.ResponseWriter, r *http.Request) {
	var req setTimeRequest
	identity, ok := s.decode(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	if err := s.admin.SetTime(r.Context(), identity, req.Minutes); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	path, err := s.admin.Backup(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

type progressResponse struct {
	Identity         string  `json:"identity"`
	DisplayName      string  `json:"displayName"`
	AccruedMinutes   int64   `json:"accruedMinutes"`
	PendingBalance   float64 `json:"pendingBalance"`
	LastUpdated      int64   `json:"lastUpdated"`
	CycleCount       int64   `json:"cycleCount"`
	RemainingMinutes int64   `json:"remainingMinutes"`
	ProgressPercent  float64 `json:"progressPercent"`
	Ready            bool    `json:"ready"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	identity, err := uuid.Parse(r.PathValue("identity"))
	if err != nil {
		http.Error(w, "invalid identity", http.StatusBadRequest)
		return
	}
	info, err := s.admin.Info(r.Context(), identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, progressResponse{
		Identity:         info.Record.Identity.String(),
		DisplayName:      info.Record.DisplayName,
		AccruedMinutes:   info.Record.AccruedMinutes,
		PendingBalance:   info.Record.PendingBalance,
		LastUpdated:      info.Record.LastUpdated.UnixMilli(),
		CycleCount:       info.Record.CycleCount,
		RemainingMinutes: info.RemainingMinutes,
		ProgressPercent:  info.ProgressPercent,
		Ready:            info.Ready,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.AggregateStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// decode parses the JSON body and the identity field shared by every event
// and admin request.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, identity func() string) (uuid.UUID, bool) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(identity())
	if err != nil {
		http.Error(w, "invalid identity", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotActive):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, app.ErrMinutesOutOfRange), errors.Is(err, app.ErrNegativeAmount):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.WithError(err).Error("Request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// NewHTTPServer wraps the handler with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
}
