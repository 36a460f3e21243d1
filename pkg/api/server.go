package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperspot/pkg/app/core/sequencer"
	"github.com/uhyunpark/hyperspot/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperspot/pkg/app/dex"
	"github.com/uhyunpark/hyperspot/pkg/crypto"
	"github.com/uhyunpark/hyperspot/pkg/metrics"
)

const (
	maxBodyBytes      = 64 << 10
	defaultTradeLimit = 50
	maxTradeLimit     = 500
	requestIDHeader   = "X-Request-ID"
)

// Server serves the REST API, the WebSocket feed and the metrics endpoint
type Server struct {
	engine   *dex.Engine
	seq      *sequencer.Sequencer
	verifier *transaction.Verifier
	resolve  dex.TokenResolver
	faucet   Faucet
	hub      *Hub
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	origins  []string
	router   *mux.Router
}

// Faucet mints wallet funds on development networks
type Faucet interface {
	Fund(addr common.Address, ticker asset.Ticker, amount *uint256.Int) error
	Wallet(addr common.Address, ticker asset.Ticker) (uint256.Int, error)
}

// Option customizes a Server
type Option func(*Server)

// WithHub attaches the WebSocket hub served at /ws
func WithHub(h *Hub) Option { return func(s *Server) { s.hub = h } }

// WithMetrics serves m at /metrics
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithLogger sets the request logger
func WithLogger(l *zap.SugaredLogger) Option { return func(s *Server) { s.logger = l } }

// WithTokenResolver lets signed add_token actions bind a transfer capability
func WithTokenResolver(r dex.TokenResolver) Option { return func(s *Server) { s.resolve = r } }

// WithFaucet serves POST /api/v1/devnet/faucet
func WithFaucet(f Faucet) Option { return func(s *Server) { s.faucet = f } }

// WithCORSOrigins sets the browser origins allowed to call the API
func WithCORSOrigins(origins []string) Option { return func(s *Server) { s.origins = origins } }

// NewServer wires the API over engine; mutations go through seq after verifier authenticates them
func NewServer(engine *dex.Engine, seq *sequencer.Sequencer, verifier *transaction.Verifier, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		seq:      seq,
		verifier: verifier,
		logger:   zap.NewNop().Sugar(),
		origins:  []string{"http://localhost:3000", "http://localhost:3001"},
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requestLogger)

	api.HandleFunc("/assets", s.handleGetAssets).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/{ticker}/depth", s.handleGetDepth).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/{ticker}/{side}", s.handleGetOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/orders/{ticker}/{id:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/balances/{address}/{ticker}", s.handleGetBalance).Methods(http.MethodGet)
	api.HandleFunc("/trades/{ticker}", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleGetState).Methods(http.MethodGet)
	api.HandleFunc("/actions", s.handleSubmitAction).Methods(http.MethodPost)
	if s.faucet != nil {
		api.HandleFunc("/devnet/faucet", s.handleFaucet).Methods(http.MethodPost)
	}

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// ==============================
// Middleware
// ==============================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Debugw("http_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.Assets()
	out := make([]AssetInfo, len(assets))
	for i, a := range assets {
		out[i] = assetInfo(a)
	}
	respondJSON(w, out)
}

// listedTicker resolves ticker to a listed asset or writes the error
func (s *Server) listedTicker(w http.ResponseWriter, ticker string) (asset.Asset, bool) {
	a, err := s.engine.Registry().Get(asset.Ticker(ticker))
	if err != nil {
		respondErr(w, err)
		return asset.Asset{}, false
	}
	return a, true
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	a, ok := s.listedTicker(w, mux.Vars(r)["ticker"])
	if !ok {
		return
	}
	side, err := orderbook.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	orders := s.engine.GetOrderBook(a.Ticker, side)
	out := OrderbookSnapshot{Ticker: a.Ticker.String(), Side: side.String(), Orders: make([]OrderInfo, len(orders))}
	for i, o := range orders {
		out.Orders[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	a, ok := s.listedTicker(w, mux.Vars(r)["ticker"])
	if !ok {
		return
	}
	respondJSON(w, DepthSnapshot{
		Ticker:    a.Ticker.String(),
		Bids:      priceLevels(s.engine.Depth(a.Ticker, orderbook.Buy)),
		Asks:      priceLevels(s.engine.Depth(a.Ticker, orderbook.Sell)),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	a, ok := s.listedTicker(w, mux.Vars(r)["ticker"])
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, found := s.engine.Order(a.Ticker, id)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", "filled, never placed or a market order")
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "invalid address", addr)
		return
	}
	a, ok := s.listedTicker(w, mux.Vars(r)["ticker"])
	if !ok {
		return
	}

	account := common.HexToAddress(addr)
	bal := s.engine.Balance(account, a.Ticker)
	respondJSON(w, BalanceInfo{
		Address:   account.Hex(),
		Ticker:    a.Ticker.String(),
		Balance:   bal.Dec(),
		Formatted: formatUnits(&bal, a.Decimals()),
		Decimals:  a.Decimals(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	a, ok := s.listedTicker(w, mux.Vars(r)["ticker"])
	if !ok {
		return
	}
	limit := defaultTradeLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = min(n, maxTradeLimit)
	}

	trades, err := s.engine.RecentTrades(a.Ticker, limit)
	if err != nil {
		s.logger.Errorw("trades_query_failed", "ticker", a.Ticker, "err", err)
		respondError(w, http.StatusInternalServerError, "trade history unavailable", "")
		return
	}
	respondJSON(w, tradeInfos(trades))
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StateInfo{
		StateRoot:   s.engine.StateRoot().Hex(),
		NextOrderID: s.engine.NextOrderID(),
		Pending:     s.seq.Len(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Signed actions
// ==============================

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	tx, err := transaction.Deserialize(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid action", err.Error())
		return
	}
	resp, err := s.Submit(r.Context(), tx)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, resp)
}

// Submit authenticates tx and runs it on the sequencer
func (s *Server) Submit(ctx context.Context, tx *transaction.SignedAction) (ActionResponse, error) {
	a, err := s.verifier.Verify(tx)
	if err != nil {
		return ActionResponse{}, err
	}

	resp := ActionResponse{Status: "executed", Type: string(tx.Type), Owner: a.Owner.Hex(), Nonce: a.Nonce}
	err = s.seq.Submit(ctx, func(ctx context.Context) error {
		return s.execute(ctx, a, &resp)
	})
	if err != nil {
		return ActionResponse{}, err
	}
	return resp, nil
}

// execute runs an authenticated action against the engine; called on the sequencer goroutine
func (s *Server) execute(ctx context.Context, a *crypto.Action, resp *ActionResponse) error {
	switch a.Kind {
	case crypto.KindDeposit:
		if s.engine.Registry().IsBase(a.Ticker) {
			return s.engine.DepositEth(ctx, a.Owner, a.Amount)
		}
		return s.engine.Deposit(ctx, a.Owner, a.Amount, a.Ticker)

	case crypto.KindWithdraw:
		return s.engine.Withdraw(ctx, a.Owner, a.Amount, a.Ticker)

	case crypto.KindLimitOrder:
		o, err := s.engine.CreateLimitOrder(ctx, a.Owner, orderbook.Side(a.Side), a.Ticker, a.Amount.Uint64(), a.Price)
		if err != nil {
			return err
		}
		info := orderInfo(o)
		resp.Order = &info
		return nil

	case crypto.KindMarketOrder:
		res, err := s.engine.CreateMarketOrder(ctx, a.Owner, orderbook.Side(a.Side), a.Ticker, a.Amount.Uint64())
		if err != nil {
			return err
		}
		resp.Market = &MarketFill{OrderID: res.OrderID, Requested: res.Requested, Filled: res.Filled}
		resp.Trades = tradeInfos(res.Trades)
		return nil

	case crypto.KindAddToken:
		if s.resolve == nil {
			return fmt.Errorf("%w: token listing is disabled on this node", dex.ErrUnknownAsset)
		}
		token, err := s.resolve(a.Ticker, a.Token)
		if err != nil {
			return fmt.Errorf("%w: %w", dex.ErrUnknownAsset, err)
		}
		return s.engine.AddToken(a.Owner, a.Ticker, a.Token, token)
	}
	return fmt.Errorf("%w: unsupported action %s", dex.ErrInvalidOrder, a.Kind)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", req.Address)
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	a, ok := s.listedTicker(w, req.Ticker)
	if !ok {
		return
	}

	addr := common.HexToAddress(req.Address)
	if err := s.faucet.Fund(addr, a.Ticker, amount); err != nil {
		respondError(w, http.StatusNotFound, "faucet failed", err.Error())
		return
	}
	wallet, err := s.faucet.Wallet(addr, a.Ticker)
	if err != nil {
		respondError(w, http.StatusNotFound, "faucet failed", err.Error())
		return
	}
	s.logger.Infow("faucet_funded", "address", addr.Hex(), "ticker", a.Ticker, "amount", amount.Dec())
	respondJSON(w, BalanceInfo{
		Address:   addr.Hex(),
		Ticker:    a.Ticker.String(),
		Balance:   wallet.Dec(),
		Formatted: formatUnits(&wallet, a.Decimals()),
		Decimals:  a.Decimals(),
	})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps an engine or verifier error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, dex.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, dex.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrStaleNonce), errors.Is(err, dex.ErrCallInProgress):
		return http.StatusConflict
	case errors.Is(err, dex.ErrInsufficientBalance), errors.Is(err, dex.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dex.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, dex.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, sequencer.ErrStopped), errors.Is(err, sequencer.ErrFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusBadRequest
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, transaction.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, transaction.ErrStaleNonce):
		return "stale_nonce"
	case errors.Is(err, sequencer.ErrStopped), errors.Is(err, sequencer.ErrFull):
		return "unavailable"
	}
	return dex.Reason(err)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Reason:  reasonFor(err),
		Message: err.Error(),
	})
}
