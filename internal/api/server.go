// Package api is the HTTP surface of the engine: authenticated trigger
// endpoints for the scheduler and the player-facing market endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"bourse/internal/auth"
	"bourse/internal/cache"
	"bourse/internal/config"
	"bourse/internal/market"
	"bourse/internal/orders"
	"bourse/internal/rank"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	identity *auth.IdentityClient
	trigger  auth.TriggerSigner
	store    *market.Store
	sched    *market.Scheduler
	orders   *orders.Service
	rank     *rank.Service
	prices   *cache.Prices
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, identity *auth.IdentityClient, store *market.Store, sched *market.Scheduler, orderSvc *orders.Service, rankSvc *rank.Service, prices *cache.Prices) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		identity: identity,
		trigger:  auth.NewTriggerSigner(cfg.TriggerSecret),
		store:    store,
		sched:    sched,
		orders:   orderSvc,
		rank:     rankSvc,
		prices:   prices,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/triggers", func(r chi.Router) {
			r.Post("/market-open", s.triggerHandler("market-open", s.sched.EnqueueOpen))
			r.Post("/market-update", s.triggerHandler("market-update", s.sched.EnqueueTick))
			r.Post("/news-update", s.triggerHandler("news-update", s.sched.EnqueueNews))
			r.Post("/market-close", s.triggerHandler("market-close", s.sched.EnqueueClose))
		})

		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/stocks", s.handleStocksList)
			r.Get("/stocks/{ticker}", s.handleStockDetail)
			r.Get("/news", s.handleNews)

			r.Post("/orders/conditional", s.handleOrderCreate)
			r.Get("/orders/conditional", s.handleOrderList)
			r.Delete("/orders/conditional/{id}", s.handleOrderCancel)

			r.Get("/rank", s.handleRank)
			r.Get("/leaderboard", s.handleLeaderboard)
		})
	})
}

// triggerHandler authenticates the worker's token and hands the work
// to the task queue. Enqueue is fast; the response never waits for the
// scheduler.
func (s *Server) triggerHandler(scope string, enqueue func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.trigger.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid trigger token: %v", err))
			return
		}
		if claims.Scope != scope {
			writeError(w, http.StatusForbidden, fmt.Sprintf("token scope %q cannot fire %s", claims.Scope, scope))
			return
		}
		if err := enqueue(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "trigger": scope})
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.identity.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrIdentityUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "identity provider unavailable")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.identity.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeIdentityError(w, err, http.StatusBadRequest)
		return
	}
	if session.User.ID != "" {
		if err := s.ensurePlayer(r.Context(), session.User, in.Username); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.identity.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeIdentityError(w, err, http.StatusUnauthorized)
		return
	}
	if err := s.ensurePlayer(r.Context(), session.User, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) ensurePlayer(ctx context.Context, user auth.User, username string) error {
	seasonID, err := s.store.ActiveSeasonID(ctx)
	if err != nil {
		return err
	}
	return s.store.EnsurePlayer(ctx, seasonID, user.ID, user.Email, username)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	dash, err := s.store.Dashboard(r.Context(), user.UserID, seasonID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleStocksList(w http.ResponseWriter, r *http.Request) {
	_, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	companies, err := s.store.ListCompanies(r.Context(), seasonID, false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": companies})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	_, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	if err := market.ValidateTicker(ticker); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.prices != nil {
		if raw, hit, err := s.prices.Get(r.Context(), seasonID, ticker); err == nil && hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(raw)
			return
		}
	}

	detail, err := s.store.CompanyDetail(r.Context(), seasonID, ticker)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.prices != nil {
		if raw, err := json.Marshal(detail); err == nil {
			if err := s.prices.Set(r.Context(), seasonID, ticker, raw); err != nil {
				s.log.Warn("price cache write failed", "ticker", ticker, "err", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	_, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	events, err := s.store.ActiveEvents(r.Context(), seasonID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleOrderCreate(w http.ResponseWriter, r *http.Request) {
	user, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	var in struct {
		Ticker            string  `json:"ticker"`
		OrderType         string  `json:"order_type"`
		ConditionType     string  `json:"condition_type"`
		TargetPrice       float64 `json:"target_price,omitempty"`
		TargetRatePercent float64 `json:"target_rate_percent,omitempty"`
		Quantity          float64 `json:"quantity"`
		ExpiresInDays     int     `json:"expires_in_days"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	qtyUnits, err := market.SharesToUnits(in.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.orders.Create(r.Context(), orders.CreateInput{
		UserID:            user.UserID,
		SeasonID:          seasonID,
		Ticker:            strings.ToUpper(strings.TrimSpace(in.Ticker)),
		OrderType:         orders.OrderType(strings.ToLower(strings.TrimSpace(in.OrderType))),
		ConditionType:     orders.ConditionType(strings.ToLower(strings.TrimSpace(in.ConditionType))),
		TargetPriceMicros: market.PointsToMicros(in.TargetPrice),
		TargetRateBps:     int64(in.TargetRatePercent * 100),
		QuantityUnits:     qtyUnits,
		ExpiresInDays:     in.ExpiresInDays,
		IdempotencyKey:    idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	user, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	list, err := s.orders.List(r.Context(), user.UserID, seasonID, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	user, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := s.orders.Cancel(r.Context(), user.UserID, seasonID, orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": orderID})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	user, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	view, err := s.rank.Get(r.Context(), user.UserID, seasonID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	_, seasonID, ok := s.requireSeason(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		limit = n
	}
	rows, err := s.rank.Leaderboard(r.Context(), seasonID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}

// requireSeason resolves the caller and the active season; on failure
// it has already written the response.
func (s *Server) requireSeason(w http.ResponseWriter, r *http.Request) (UserContext, int64, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return UserContext{}, 0, false
	}
	seasonID, err := s.store.ActiveSeasonID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return UserContext{}, 0, false
	}
	return user, seasonID, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrDuplicateIdempotency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrInsufficientFunds), errors.Is(err, orders.ErrInsufficientShares):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrInvalidSide), errors.Is(err, orders.ErrInvalidCondition),
		errors.Is(err, orders.ErrForbiddenCombination), errors.Is(err, orders.ErrInvalidTarget),
		errors.Is(err, orders.ErrInvalidQuantity), errors.Is(err, orders.ErrInvalidExpiry):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrEscrowViolation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrInvalidTicker):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrCompanyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrCompanyDelisted):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, market.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// writeIdentityError maps identity failures: a refusal keeps the
// caller-facing status the handler chose, an unreachable provider is a
// bad gateway.
func writeIdentityError(w http.ResponseWriter, err error, deniedStatus int) {
	if errors.Is(err, auth.ErrIdentityUnavailable) {
		writeError(w, http.StatusBadGateway, "identity provider unavailable")
		return
	}
	writeError(w, deniedStatus, err.Error())
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
