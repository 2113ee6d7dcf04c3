// Package api serves a read-only explorer over the ledger: balances, locked
// deposits with their decoded order terms, and a WebSocket stream of commits.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/order"
	"github.com/uhyunpark/limitpredicate/pkg/util"
)

// Reader is the read side of the ledger the explorer needs.
type Reader interface {
	BalanceOf(ctx context.Context, owner common.Address, asset common.Hash) (uint64, error)
	Balances(ctx context.Context, owner common.Address) (map[common.Hash]uint64, error)
	NonceOf(ctx context.Context, addr common.Address) (uint64, error)
	Deposit(ctx context.Context, ref ledger.DepositRef) (*ledger.Deposit, error)
	DepositsByPredicate(ctx context.Context, root common.Address) ([]*ledger.Deposit, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	ledger Reader
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

func NewServer(l Reader, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = util.NopSugar()
	}
	s := &Server{
		ledger: l,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")

	// Deposit endpoints
	api.HandleFunc("/deposits/{ref}", s.handleGetDeposit).Methods("GET")
	api.HandleFunc("/predicates/{root}/deposits", s.handleGetPredicateDeposits).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves until the listener fails
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Infow("api_started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAsset accepts only a 0x-prefixed 32-byte asset id.
func parseAsset(w http.ResponseWriter, s string) (common.Hash, bool) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid asset id", s)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	balances, err := s.ledger.Balances(r.Context(), addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load balances", err.Error())
		return
	}
	nonce, err := s.ledger.NonceOf(r.Context(), addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load nonce", err.Error())
		return
	}

	info := AccountInfo{Address: addr.Hex(), Nonce: nonce, Balances: []BalanceInfo{}}
	for asset, amount := range balances {
		info.Balances = append(info.Balances, BalanceInfo{Address: addr.Hex(), Asset: asset.Hex(), Amount: amount})
	}
	respondJSON(w, info)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, ok := parseAddress(w, vars["address"])
	if !ok {
		return
	}
	asset, ok := parseAsset(w, vars["asset"])
	if !ok {
		return
	}

	amount, err := s.ledger.BalanceOf(r.Context(), addr, asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load balance", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{Address: addr.Hex(), Asset: asset.Hex(), Amount: amount})
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	ref, err := ledger.HexToDepositRef(mux.Vars(r)["ref"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid deposit ref", err.Error())
		return
	}

	dep, err := s.ledger.Deposit(r.Context(), ref)
	if errors.Is(err, ledger.ErrDepositNotFound) {
		respondError(w, http.StatusNotFound, "deposit not found", ref.Hex())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load deposit", err.Error())
		return
	}
	respondJSON(w, depositInfo(dep))
}

func (s *Server) handleGetPredicateDeposits(w http.ResponseWriter, r *http.Request) {
	root, ok := parseAddress(w, mux.Vars(r)["root"])
	if !ok {
		return
	}

	deposits, err := s.ledger.DepositsByPredicate(r.Context(), root)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load deposits", err.Error())
		return
	}

	wantStatus := r.URL.Query().Get("status")
	response := make([]*DepositInfo, 0, len(deposits))
	for _, dep := range deposits {
		info := depositInfo(dep)
		if wantStatus != "" && info.Status != wantStatus {
			continue
		}
		response = append(response, info)
	}
	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// depositInfo converts a deposit for the API, decoding limit-order terms
// when the locking data carries them.
func depositInfo(dep *ledger.Deposit) *DepositInfo {
	info := &DepositInfo{
		Ref:       dep.Ref.Hex(),
		Predicate: dep.Predicate.Hex(),
		Asset:     dep.Asset.Hex(),
		Amount:    dep.Amount,
		Origin:    dep.Origin.Hex(),
		Status:    "open",
		CreatedTx: dep.CreatedTx.Hex(),
		CreatedAt: dep.CreatedAt.UnixMilli(),
	}
	if dep.Consumed {
		info.Status = "consumed"
		info.ConsumedTx = dep.ConsumedTx.Hex()
	}

	terms, err := order.DecodeTerms(dep.Data)
	if err != nil {
		return info
	}
	info.Terms = &TermsInfo{
		Asset0:            terms.Asset0.Hex(),
		Asset1:            terms.Asset1.Hex(),
		Decimals0:         terms.Decimals0,
		Decimals1:         terms.Decimals1,
		Maker:             terms.Maker.Hex(),
		Price:             terms.Price,
		PriceDecimals:     terms.PriceDecimals,
		MinFulfillAmount0: terms.MinFulfillAmount0,
	}
	if required, err := terms.RequiredAmount1(dep.Amount); err == nil {
		info.RequiredAmount1 = &required
	}
	return info
}

// ==============================
// Ledger events
// ==============================

// HandleEvent fans a committed ledger event out to subscribed WebSocket
// clients. Wire it as ledger.Ledger.OnCommit.
func (s *Server) HandleEvent(ev ledger.Event) {
	payload := LedgerEvent{TxHash: ev.TxHash.Hex(), Accounts: make([]string, len(ev.Accounts))}
	for i, a := range ev.Accounts {
		payload.Accounts[i] = a.Hex()
	}
	if ev.Deposit != nil {
		payload.Deposit = depositInfo(ev.Deposit)
		channel := "deposits:" + ev.Deposit.Predicate.Hex()
		s.hub.BroadcastToChannel(channel, WSMessage{Type: string(ev.Type), Channel: channel, Data: payload})
	}
	for _, a := range ev.Accounts {
		channel := "account:" + a.Hex()
		s.hub.BroadcastToChannel(channel, WSMessage{Type: string(ev.Type), Channel: channel, Data: payload})
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
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
