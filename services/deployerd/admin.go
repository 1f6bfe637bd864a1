package deployerd

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"griddeployer/scheduler"
)

// AdminServer exposes the operator control surface: loop pause/resume,
// status, the discovered deployer pool, and Prometheus metrics.
type AdminServer struct {
	sched  *scheduler.Scheduler
	router chi.Router
}

// NewAdminServer constructs a server wrapping the provided scheduler.
func NewAdminServer(sched *scheduler.Scheduler, bearerToken string) *AdminServer {
	server := &AdminServer{sched: sched}
	router := chi.NewRouter()
	if token := strings.TrimSpace(bearerToken); token != "" {
		router.Use(bearerAuth(token))
	}
	router.Get("/status", server.handleStatus)
	router.Get("/deployers", server.handleDeployers)
	router.Post("/pause", server.handlePause)
	router.Post("/resume", server.handleResume)
	router.Handle("/metrics", promhttp.Handler())
	server.router = router
	return server
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.sched.Status())
}

type deployerView struct {
	Address        string `json:"address"`
	Authority      string `json:"authority"`
	FeeBasisPoints uint16 `json:"fee_basis_points"`
	FlatFee        uint64 `json:"flat_fee"`
	CachedBalance  uint64 `json:"cached_balance"`
}

func (s *AdminServer) handleDeployers(w http.ResponseWriter, r *http.Request) {
	pool := s.sched.Deployers()
	views := make([]deployerView, 0, len(pool))
	for _, dep := range pool {
		views = append(views, deployerView{
			Address:        dep.Address.String(),
			Authority:      dep.Authority.String(),
			FeeBasisPoints: dep.FeeBasisPoints,
			FlatFee:        dep.FlatFee,
			CachedBalance:  dep.CachedBalance,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (s *AdminServer) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sched.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume()
	w.WriteHeader(http.StatusNoContent)
}
