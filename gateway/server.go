package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veilmarket/confidential"
	"veilmarket/native/arbiter"
	nativecommon "veilmarket/native/common"
	"veilmarket/native/escrow"
	"veilmarket/native/reputation"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Faucet funds accounts out of band. Only the in-memory development ledger
// implements it; production deployments leave it nil.
type Faucet interface {
	Fund(owner [20]byte, amount *big.Int) error
}

// Server is the HTTP front-end for the settlement engine.
type Server struct {
	engine   *escrow.Engine
	rep      *reputation.Ledger
	auth     *Authenticator
	limiter  *RateLimiter
	faucet   Faucet
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewServer wires the engine behind authenticated JSON routes.
func NewServer(engine *escrow.Engine, rep *reputation.Ledger, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if engine == nil {
		panic("engine required")
	}
	if auth == nil {
		panic("authenticator required")
	}
	if limiter == nil {
		limiter = NewRateLimiter(60)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		rep:     rep,
		auth:    auth,
		limiter: limiter,
		logger:  logger,
	}
}

// SetFaucet enables the development funding endpoint.
func (s *Server) SetFaucet(f Faucet) { s.faucet = f }

// SetMetricsRegistry exposes reg under /metrics.
func (s *Server) SetMetricsRegistry(reg *prometheus.Registry) { s.registry = reg }

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware)

		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Post("/orders/{id}/accept", s.handleAcceptOrder)
		r.Post("/orders/{id}/ship", s.handleMarkShipped)
		r.Post("/orders/{id}/deliver", s.handleConfirmDelivery)
		r.Post("/orders/{id}/finalize", s.handleFinalizeOrder)
		r.Post("/orders/{id}/finalize-early", s.handleFinalizeEarly)
		r.Post("/orders/{id}/auto-complete", s.handleAutoComplete)
		r.Post("/orders/{id}/dispute", s.handleOpenDispute)
		r.Post("/orders/{id}/resolve", s.handleResolveDispute)
		r.Post("/orders/{id}/reclaim", s.handleReclaimExpired)
		r.Post("/orders/{id}/shipping-timeout", s.handleShippingTimeout)

		r.Get("/reputation/{address}", s.handleGetReputation)
		r.Post("/reputation/apply", s.handleApplyReputation)

		r.Post("/faucet", s.handleFaucet)
	})
	return r
}

type createOrderRequest struct {
	OrderID              uint64 `json:"orderId"`
	Amount               string `json:"amount"`
	EncryptedShipping    string `json:"encryptedShipping,omitempty"`
	ShippingNonce        string `json:"shippingNonce,omitempty"`
	AmountCommitment     string `json:"amountCommitment,omitempty"`
	UsePrivateReputation bool   `json:"usePrivateReputation,omitempty"`
	Seed                 uint64 `json:"seed"`
}

type orderView struct {
	ID                   string `json:"id"`
	OrderID              uint64 `json:"orderId"`
	Buyer                string `json:"buyer"`
	Seller               string `json:"seller,omitempty"`
	Arbiter              string `json:"arbiter"`
	Asset                string `json:"asset"`
	Amount               string `json:"amount"`
	SellerStake          string `json:"sellerStake"`
	PlatformFee          string `json:"platformFee"`
	State                string `json:"state"`
	TrackingNumber       string `json:"trackingNumber,omitempty"`
	DisputeReason        string `json:"disputeReason,omitempty"`
	CreatedAt            int64  `json:"createdAt"`
	AcceptedAt           int64  `json:"acceptedAt,omitempty"`
	ShippedAt            int64  `json:"shippedAt,omitempty"`
	DeliveredAt          int64  `json:"deliveredAt,omitempty"`
	DisputeOpenedAt      int64  `json:"disputeOpenedAt,omitempty"`
	UsePrivateReputation bool   `json:"usePrivateReputation"`
}

func viewOrder(esc *escrow.Escrow) orderView {
	view := orderView{
		ID:                   hex.EncodeToString(esc.ID[:]),
		OrderID:              esc.OrderID,
		Buyer:                "0x" + hex.EncodeToString(esc.Buyer[:]),
		Arbiter:              "0x" + hex.EncodeToString(esc.Arbiter[:]),
		Asset:                esc.Asset,
		Amount:               esc.Amount.String(),
		SellerStake:          esc.SellerStake.String(),
		PlatformFee:          esc.PlatformFee.String(),
		State:                esc.State.String(),
		TrackingNumber:       esc.TrackingNumber,
		DisputeReason:        esc.DisputeReason,
		CreatedAt:            esc.CreatedAt,
		AcceptedAt:           esc.AcceptedAt,
		ShippedAt:            esc.ShippedAt,
		DeliveredAt:          esc.DeliveredAt,
		DisputeOpenedAt:      esc.DisputeOpenedAt,
		UsePrivateReputation: esc.UsePrivateReputation,
	}
	if esc.Seller != ([20]byte{}) {
		view.Seller = "0x" + hex.EncodeToString(esc.Seller[:])
	}
	return view
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrMissingToken)
		return
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount %q", req.Amount))
		return
	}
	var shipping []byte
	if req.EncryptedShipping != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.EncryptedShipping)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid encryptedShipping: %w", err))
			return
		}
		shipping = decoded
	}
	var nonce [16]byte
	if req.ShippingNonce != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(req.ShippingNonce, "0x"))
		if err != nil || len(decoded) != len(nonce) {
			writeError(w, http.StatusBadRequest, errors.New("shippingNonce must be 16 hex-encoded bytes"))
			return
		}
		copy(nonce[:], decoded)
	}
	var commitment *[32]byte
	if req.AmountCommitment != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(req.AmountCommitment, "0x"))
		if err != nil || len(decoded) != 32 {
			writeError(w, http.StatusBadRequest, errors.New("amountCommitment must be 32 hex-encoded bytes"))
			return
		}
		var buf [32]byte
		copy(buf[:], decoded)
		commitment = &buf
	}
	esc, err := s.engine.CreateOrder(caller, req.OrderID, amount, shipping, nonce, commitment, req.UsePrivateReputation, req.Seed)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOrder(esc))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	esc, err := s.engine.Get(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(esc))
}

// transition wraps the common shape of the lifecycle handlers: parse the
// order ID, run the engine call, return the refreshed record.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(id [32]byte, caller [20]byte) error) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrMissingToken)
		return
	}
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := fn(id, caller); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	esc, err := s.engine.Get(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(esc))
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.AcceptOrder(id, caller)
	})
}

func (s *Server) handleMarkShipped(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingNumber string `json:"trackingNumber"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.MarkShipped(id, caller, req.TrackingNumber)
	})
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.ConfirmDelivery(id, caller)
	})
}

func (s *Server) handleFinalizeOrder(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, _ [20]byte) error {
		return s.engine.FinalizeOrder(id)
	})
}

func (s *Server) handleFinalizeEarly(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.FinalizeEarly(id, caller)
	})
}

func (s *Server) handleAutoComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, _ [20]byte) error {
		return s.engine.AutoComplete(id)
	})
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.OpenDispute(id, caller, req.Reason)
	})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Winner string `json:"winner"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var winner escrow.DisputeWinner
	switch strings.ToLower(strings.TrimSpace(req.Winner)) {
	case "buyer":
		winner = escrow.WinnerBuyer
	case "seller":
		winner = escrow.WinnerSeller
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("winner must be buyer or seller, got %q", req.Winner))
		return
	}
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.ResolveDispute(id, caller, winner)
	})
}

func (s *Server) handleReclaimExpired(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, caller [20]byte) error {
		return s.engine.ReclaimExpired(id, caller)
	})
}

func (s *Server) handleShippingTimeout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id [32]byte, _ [20]byte) error {
		return s.engine.ShippingTimeout(id)
	})
}

type reputationView struct {
	User             string `json:"user"`
	TotalOrders      uint64 `json:"totalOrders"`
	SuccessfulOrders uint64 `json:"successfulOrders"`
	DisputesOpened   uint64 `json:"disputesOpened"`
	DisputesWon      uint64 `json:"disputesWon"`
	DisputesLost     uint64 `json:"disputesLost"`
	Score            uint64 `json:"score"`
	ScorePending     bool   `json:"scorePending"`
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	if s.rep == nil {
		writeError(w, http.StatusNotFound, errors.New("reputation disabled"))
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, ok, err := s.rep.Get(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no reputation record"))
		return
	}
	writeJSON(w, http.StatusOK, reputationView{
		User:             "0x" + hex.EncodeToString(rec.User[:]),
		TotalOrders:      rec.TotalOrders,
		SuccessfulOrders: rec.SuccessfulOrders,
		DisputesOpened:   rec.DisputesOpened,
		DisputesWon:      rec.DisputesWon,
		DisputesLost:     rec.DisputesLost,
		Score:            rec.Score,
		ScorePending:     rec.ScorePending,
	})
}

func (s *Server) handleApplyReputation(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrMissingToken)
		return
	}
	var req struct {
		User  string `json:"user"`
		Score uint64 `json:"score"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.ApplyPrivateReputation(caller, user, req.Score); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if s.faucet == nil {
		writeError(w, http.StatusNotFound, errors.New("faucet disabled"))
		return
	}
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrMissingToken)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount %q", req.Amount))
		return
	}
	if err := s.faucet.Fund(caller, amount); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

func orderIDParam(r *http.Request) ([32]byte, error) {
	var id [32]byte
	raw := strings.TrimPrefix(chi.URLParam(r, "id"), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return id, fmt.Errorf("order id must be 32 hex-encoded bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func addressParam(r *http.Request, name string) ([20]byte, error) {
	return parseAddress(chi.URLParam(r, name))
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("address must be 20 hex-encoded bytes")
	}
	copy(addr[:], decoded)
	return addr, nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, escrow.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrOrderExists),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, reputation.ErrNoPendingUpdate):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrShippingDataTooLarge),
		errors.Is(err, escrow.ErrInvalidTracking),
		errors.Is(err, escrow.ErrInvalidReason),
		errors.Is(err, escrow.ErrInvalidWinner),
		errors.Is(err, reputation.ErrScoreOutOfRange),
		errors.Is(err, confidential.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrDeadlineExpired),
		errors.Is(err, escrow.ErrDeadlineNotReached):
		return http.StatusUnprocessableEntity
	case errors.Is(err, confidential.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, arbiter.ErrNoArbitersAvailable),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
