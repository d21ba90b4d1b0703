package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/market"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/matching"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/position"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/risk"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/trading"
	"github.com/alexlomt/tradingbot-sub000/pkg/util"
)

const (
	defaultDepth     = 20
	defaultFillLimit = 50
	maxFillLimit     = 1000
)

type Books interface {
	Pairs() []string
	Snapshot(pair string, depth int) (orderbook.Snapshot, error)
}

type Positions interface {
	Open() []position.Position
	ByOwner(owner string) []position.Position
}

type Trading interface {
	ActivePositions() []trading.ActivePosition
	DailyStats(owner string) risk.DailyStats
	PendingSettlements() int
}

type FillHistory interface {
	RecentFills(pair string, limit int) ([]orderbook.Fill, error)
}

type Markets interface {
	List() []market.Market
}

// Deps are what the ops server reads from. Nil collaborators disable the
// endpoints that need them.
type Deps struct {
	Books     Books
	Positions Positions
	Trading   Trading
	Fills     FillHistory
	Markets   Markets
	Prices    market.DataSource
	Gatherer  prometheus.Gatherer
}

// Server is a read-only REST and websocket view of the running engine.
type Server struct {
	deps   Deps
	router *mux.Router
	hub    *Hub
	http   *http.Server
	log    *zap.SugaredLogger

	AllowedOrigins []string
}

func NewServer(deps Deps, log *zap.SugaredLogger) *Server {
	log = util.OrNop(log)
	s := &Server{
		deps:           deps,
		router:         mux.NewRouter(),
		hub:            NewHub(log),
		log:            log,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
	}
	s.setupRoutes()
	return s
}

// Hub is the websocket fan-out; subscribe it to the event bus.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	api.HandleFunc("/books/{pair}", s.handleBook).Methods(http.MethodGet)
	api.HandleFunc("/fills/{pair}", s.handleFills).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/positions/active", s.handleActive).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{owner}", s.handleAccount).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler is the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(hubCtx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := StatusInfo{Pairs: []string{}, WSClients: s.hub.Len()}
	if s.deps.Books != nil {
		st.Pairs = s.deps.Books.Pairs()
	}
	if s.deps.Trading != nil {
		st.ActivePositions = len(s.deps.Trading.ActivePositions())
		st.PendingSettlements = s.deps.Trading.PendingSettlements()
	}
	if s.deps.Positions != nil {
		st.OpenPositions = len(s.deps.Positions.Open())
	}
	respondJSON(w, st)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Markets == nil {
		respondJSON(w, []MarketInfo{})
		return
	}
	markets := s.deps.Markets.List()
	out := make([]MarketInfo, 0, len(markets))
	for _, m := range markets {
		info := MarketInfo{
			Pair:        m.Pair,
			BaseToken:   m.BaseToken,
			QuoteToken:  m.QuoteToken,
			PoolAddress: m.PoolAddress,
			Status:      m.Status.String(),
		}
		if st, ok := s.state(r.Context(), m.Pair); ok {
			info.Price = st.Price
			info.Volatility = st.Volatility()
			info.Active = st.IsActive
		}
		out = append(out, info)
	}
	respondJSON(w, out)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Books == nil {
		respondError(w, http.StatusServiceUnavailable, "matching disabled", "")
		return
	}
	pair := mux.Vars(r)["pair"]
	depth, err := intParam(r, "depth", defaultDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}
	snap, err := s.deps.Books.Snapshot(pair, depth)
	if errors.Is(err, matching.ErrUnknownPair) {
		respondError(w, http.StatusNotFound, "unknown pair", pair)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot failed", err.Error())
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fills == nil {
		respondJSON(w, []orderbook.Fill{})
		return
	}
	pair := mux.Vars(r)["pair"]
	limit, err := intParam(r, "limit", defaultFillLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "")
		return
	}
	fills, err := s.deps.Fills.RecentFills(pair, min(limit, maxFillLimit))
	if err != nil {
		s.log.Warnw("api_fills_failed", "pair", pair, "err", err)
		respondError(w, http.StatusInternalServerError, "fill history unavailable", err.Error())
		return
	}
	if fills == nil {
		fills = []orderbook.Fill{}
	}
	respondJSON(w, fills)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Positions == nil {
		respondJSON(w, []PositionInfo{})
		return
	}
	respondJSON(w, s.mark(r.Context(), s.deps.Positions.Open()))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trading == nil {
		respondJSON(w, []trading.ActivePosition{})
		return
	}
	respondJSON(w, s.deps.Trading.ActivePositions())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	acct := AccountInfo{Owner: owner, Positions: []PositionInfo{}, Active: []trading.ActivePosition{}}
	if s.deps.Positions != nil {
		acct.Positions = s.mark(r.Context(), s.deps.Positions.ByOwner(owner))
	}
	if s.deps.Trading != nil {
		for _, ap := range s.deps.Trading.ActivePositions() {
			if ap.Owner == owner {
				acct.Active = append(acct.Active, ap)
			}
		}
		acct.DailyStats = s.deps.Trading.DailyStats(owner)
	}
	respondJSON(w, acct)
}

func (s *Server) mark(ctx context.Context, positions []position.Position) []PositionInfo {
	out := make([]PositionInfo, 0, len(positions))
	for _, p := range positions {
		if p.IsFlat() {
			continue
		}
		mark := p.AvgEntryPrice
		if st, ok := s.state(ctx, p.Market); ok && st.Price.IsPositive() {
			mark = st.Price
		}
		out = append(out, PositionInfo{
			Owner:         p.OwnerID,
			Pair:          p.Market,
			Size:          p.Size,
			EntryPrice:    p.AvgEntryPrice,
			MarkPrice:     mark,
			UnrealizedPnL: p.UnrealizedAt(mark),
			RealizedPnL:   p.RealizedPnL,
		})
	}
	return out
}

func (s *Server) state(ctx context.Context, pair string) (market.State, bool) {
	if s.deps.Prices == nil {
		return market.State{}, false
	}
	st, err := s.deps.Prices.GetMarketState(ctx, pair)
	return st, err == nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Message: detail})
}
