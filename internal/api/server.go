// Package api exposes the settlement entry points and the query surface over
// HTTP JSON. Callers identify themselves with the X-Caller header; the value
// is the principal the request is settled for.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ammSettle/internal/claims"
	"ammSettle/internal/ledger"
	"ammSettle/internal/settle"
	"ammSettle/internal/transfer"
)

const CallerHeader = "X-Caller"

// Ingestor accepts attested bridged-chain transfers.
type Ingestor interface {
	Ingest(ctx context.Context, rec transfer.IngestedTransfer) error
}

// Server routes HTTP calls to the engine, the claims service and the ledger.
type Server struct {
	engine   *settle.Engine
	claims   *claims.Service
	ledger   *ledger.Ledger
	ingest   Ingestor
	gatherer prometheus.Gatherer
	admins   map[string]struct{}
	log      *zap.Logger
	router   http.Handler
}

type Option func(*Server)

func WithIngestor(i Ingestor) Option {
	return func(s *Server) { s.ingest = i }
}

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAdmins lists the principals allowed to run operator endpoints.
func WithAdmins(principals ...string) Option {
	return func(s *Server) {
		for _, p := range principals {
			if p = strings.TrimSpace(p); p != "" {
				s.admins[p] = struct{}{}
			}
		}
	}
}

func NewServer(engine *settle.Engine, claimsSvc *claims.Service, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		claims: claimsSvc,
		ledger: engine.Ledger(),
		admins: make(map[string]struct{}),
		log:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/tokens", s.listTokens)
		api.Get("/pools", s.listPools)
		api.Get("/pools/{id}", s.getPool)
		api.Get("/quote", s.quote)

		api.Group(func(user chi.Router) {
			user.Use(requireCaller)
			user.Post("/pools", s.addPool)
			user.Post("/pools/async", s.addPoolAsync)
			user.Post("/liquidity/add", s.addLiquidity)
			user.Post("/liquidity/add/async", s.addLiquidityAsync)
			user.Post("/liquidity/remove", s.removeLiquidity)
			user.Post("/liquidity/remove/async", s.removeLiquidityAsync)
			user.Post("/swap", s.swap)
			user.Post("/swap/async", s.swapAsync)
			user.Post("/send", s.send)
			user.Post("/send/async", s.sendAsync)

			user.Get("/requests/{id}", s.getRequest)
			user.Get("/me/requests", s.userRequests)
			user.Get("/me/transactions", s.userTransactions)
			user.Get("/me/lp", s.userLPBalances)
			user.Get("/me/claims", s.userClaims)
			user.Post("/claims/{id}/process", s.processClaim)
			user.Post("/claims/{id}/retry", s.retryClaim)
			user.Post("/claims/batch", s.batchClaims)
		})

		api.Group(func(ops chi.Router) {
			ops.Use(requireCaller, s.requireAdmin)
			ops.Post("/tokens", s.addToken)
			ops.Get("/recovery", s.recovery)
			ops.Post("/ops/claims/batch", s.operatorBatch)
			if s.ingest != nil {
				ops.Post("/ingest/solana", s.ingestSolana)
			}
		})
	})
	return r
}

type callerKey struct{}

func caller(r *http.Request) string {
	v, _ := r.Context().Value(callerKey{}).(string)
	return v
}

func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := strings.TrimSpace(r.Header.Get(CallerHeader))
		if principal == "" {
			writeError(w, http.StatusUnauthorized, "missing "+CallerHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.admins[caller(r)]; !ok {
			writeError(w, http.StatusForbidden, "operator endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a ledger commit failure into a 500 for the one call that
// hit it. Other panics reach chi's Recoverer.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fatal, ok := rec.(*ledger.FatalError)
			if !ok {
				panic(rec)
			}
			s.log.Error("request aborted by storage failure",
				zap.String("path", r.URL.Path),
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.Error(fatal))
			writeError(w, http.StatusInternalServerError, "storage failure")
		}()
		next.ServeHTTP(w, r)
	})
}
