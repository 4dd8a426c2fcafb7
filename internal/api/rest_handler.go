package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"vault_ledger/internal/admin"
	"vault_ledger/internal/domain"
	"vault_ledger/internal/ledger"
	"vault_ledger/internal/repository"
	"vault_ledger/pkg/crypto"
	"vault_ledger/pkg/units"
	"vault_ledger/pkg/validator"

	"github.com/ethereum/go-ethereum/common"
)

const (
	headerAccount   = "X-Account"
	headerSignature = "X-Signature"
	headerTimestamp = "X-Timestamp"
)

// Funder credits wallets held by the custody backend.
type Funder interface {
	Fund(asset, owner common.Address, amount *big.Int)
	Approve(token, owner common.Address, amount *big.Int)
}

// PriceSetter publishes an operator price at oracle precision.
type PriceSetter interface {
	Set(price *big.Int)
}

type APIHandler struct {
	ledger         *ledger.Ledger
	registry       *admin.Registry
	events         repository.EventRepository
	signer         *crypto.Signer
	funder         Funder
	prices         PriceSetter
	validator      *validator.RequestValidator
	logger         *slog.Logger
	requestTimeout time.Duration
}

type Option func(*APIHandler)

// WithFunder enables the admin funding route.
func WithFunder(f Funder) Option {
	return func(h *APIHandler) {
		h.funder = f
	}
}

// WithPriceSetter enables the admin price route. Only a manual feed should be
// passed here.
func WithPriceSetter(p PriceSetter) Option {
	return func(h *APIHandler) {
		h.prices = p
	}
}

func NewAPIHandler(
	l *ledger.Ledger,
	registry *admin.Registry,
	events repository.EventRepository,
	signer *crypto.Signer,
	logger *slog.Logger,
	opts ...Option,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &APIHandler{
		ledger:         l,
		registry:       registry,
		events:         events,
		signer:         signer,
		validator:      validator.NewRequestValidator(),
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type DepositRequest struct {
	Asset  string `json:"asset" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,uint256"`
	// Value is the native amount attached to the call.
	Value string `json:"value,omitempty" validate:"omitempty,uint256"`
}

type WithdrawRequest struct {
	Asset  string `json:"asset" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,uint256"`
}

type PrecisionRequest struct {
	Decimals uint8 `json:"decimals" validate:"required,max=36"`
}

type FundRequest struct {
	Owner  string `json:"owner" validate:"required,eth_addr"`
	Asset  string `json:"asset" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,uint256"`
	// Allowance, when set, replaces the owner's approval to the vault.
	Allowance string `json:"allowance,omitempty" validate:"omitempty,uint256"`
}

type PriceRequest struct {
	// Price is in dollars, up to 8 fractional digits.
	Price string `json:"price" validate:"required"`
}

type EventResponse struct {
	ID           string           `json:"id"`
	Type         domain.EventType `json:"type"`
	User         string           `json:"user"`
	Asset        string           `json:"asset"`
	Amount       string           `json:"amount"`
	UnitValue    string           `json:"unit_value"`
	UnitValueUSD string           `json:"unit_value_usd"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

type BalanceResponse struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type StatsResponse struct {
	TotalDepositedValue  string `json:"total_deposited_value"`
	TotalWithdrawnValue  string `json:"total_withdrawn_value"`
	BankCapValue         string `json:"bank_cap_value"`
	WithdrawalLimitValue string `json:"withdrawal_limit_value"`
	TotalDepositedUSD    string `json:"total_deposited_usd"`
	TotalWithdrawnUSD    string `json:"total_withdrawn_usd"`
}

type TotalResponse struct {
	User         string   `json:"user"`
	Assets       []string `json:"assets"`
	UnitValue    string   `json:"unit_value"`
	UnitValueUSD string   `json:"unit_value_usd"`
}

type ConvertResponse struct {
	UnitValue    string `json:"unit_value"`
	NativeAmount string `json:"native_amount"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *APIHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, _ := units.ParseInteger(req.Amount)
	value := new(big.Int)
	if req.Value != "" {
		value, _ = units.ParseInteger(req.Value)
	}

	evt, err := h.ledger.Deposit(ctx, domain.DepositRequest{
		User:          caller,
		Asset:         common.HexToAddress(req.Asset),
		Amount:        amount,
		AttachedValue: value,
	})
	if err != nil {
		h.sendLedgerError(w, "Deposit rejected", err)
		return
	}

	h.sendJSON(w, toEventResponse(evt), http.StatusCreated)
}

func (h *APIHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, _ := units.ParseInteger(req.Amount)
	evt, err := h.ledger.Withdraw(ctx, domain.WithdrawRequest{
		User:   caller,
		Asset:  common.HexToAddress(req.Asset),
		Amount: amount,
	})
	if err != nil {
		h.sendLedgerError(w, "Withdrawal rejected", err)
		return
	}

	h.sendJSON(w, toEventResponse(evt), http.StatusCreated)
}

func (h *APIHandler) GetVaultHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.pathAddress(w, r, "user")
	if !ok {
		return
	}
	asset, ok := h.pathAddress(w, r, "asset")
	if !ok {
		return
	}

	balance, err := h.ledger.VaultBalance(r.Context(), user, asset)
	if err != nil {
		h.sendLedgerError(w, "Failed to read vault", err)
		return
	}

	h.sendJSON(w, BalanceResponse{
		User:    user.Hex(),
		Asset:   asset.Hex(),
		Balance: balance.String(),
	}, http.StatusOK)
}

func (h *APIHandler) ListVaultsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.pathAddress(w, r, "user")
	if !ok {
		return
	}

	balances, err := h.ledger.Vaults(r.Context(), user)
	if err != nil {
		h.sendLedgerError(w, "Failed to read vaults", err)
		return
	}

	out := make([]BalanceResponse, 0, len(balances))
	for asset, balance := range balances {
		out = append(out, BalanceResponse{User: user.Hex(), Asset: asset.Hex(), Balance: balance.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	h.sendJSON(w, out, http.StatusOK)
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := h.ledger.Stats(r.Context())
	limits := h.ledger.Limits()

	h.sendJSON(w, StatsResponse{
		TotalDepositedValue:  stats.TotalDepositedValue.String(),
		TotalWithdrawnValue:  stats.TotalWithdrawnValue.String(),
		BankCapValue:         limits.BankCapValue.String(),
		WithdrawalLimitValue: limits.WithdrawalLimitValue.String(),
		TotalDepositedUSD:    units.Format(stats.TotalDepositedValue, domain.ReferenceDecimals),
		TotalWithdrawnUSD:    units.Format(stats.TotalWithdrawnValue, domain.ReferenceDecimals),
	}, http.StatusOK)
}

func (h *APIHandler) TotalBalanceHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	user, ok := h.pathAddress(w, r, "user")
	if !ok {
		return
	}

	raw := r.URL.Query()["asset"]
	assets := make([]common.Address, 0, len(raw))
	names := make([]string, 0, len(raw))
	for _, a := range raw {
		if err := h.validator.Var(a, "eth_addr"); err != nil {
			h.sendError(w, "asset must be an address", http.StatusBadRequest, "VALIDATION_ERROR")
			return
		}
		addr := common.HexToAddress(a)
		assets = append(assets, addr)
		names = append(names, addr.Hex())
	}

	total, err := h.ledger.TotalBalanceUSD(ctx, user, assets)
	if err != nil {
		h.sendLedgerError(w, "Failed to value balances", err)
		return
	}

	h.sendJSON(w, TotalResponse{
		User:         user.Hex(),
		Assets:       names,
		UnitValue:    total.String(),
		UnitValueUSD: units.Format(total, domain.ReferenceDecimals),
	}, http.StatusOK)
}

func (h *APIHandler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("unit_value")
	if err := h.validator.Var(raw, "required,uint256"); err != nil {
		h.sendError(w, "unit_value must be a non-negative integer", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	unitValue, _ := units.ParseInteger(raw)

	amount, err := h.ledger.ConvertUnitValueToNative(r.Context(), unitValue)
	if err != nil {
		h.sendLedgerError(w, "Conversion failed", err)
		return
	}

	h.sendJSON(w, ConvertResponse{UnitValue: unitValue.String(), NativeAmount: amount.String()}, http.StatusOK)
}

// SetPrecisionHandler requires an admin caller and an HMAC over the update.
func (h *APIHandler) SetPrecisionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	asset, ok := h.pathAddress(w, r, "asset")
	if !ok {
		return
	}

	var req PrecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.verifySignature(w, r, "precision", caller, asset.Hex(), strconv.Itoa(int(req.Decimals))) {
		return
	}

	if err := h.registry.SetAssetPrecision(ctx, caller, asset, req.Decimals); err != nil {
		h.sendLedgerError(w, "Precision update rejected", err)
		return
	}

	h.sendJSON(w, map[string]interface{}{
		"asset":    asset.Hex(),
		"decimals": req.Decimals,
	}, http.StatusOK)
}

// FundHandler credits a custody wallet so the owner can deposit. Admin only.
func (h *APIHandler) FundHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req FundRequest
	if !h.decode(w, r, &req) {
		return
	}
	owner := common.HexToAddress(req.Owner)
	asset := common.HexToAddress(req.Asset)
	if !h.verifySignature(w, r, "fund", caller, owner.Hex(), asset.Hex(), req.Amount, req.Allowance) {
		return
	}
	if !h.requireAdmin(w, r, caller) {
		return
	}

	amount, _ := units.ParseInteger(req.Amount)
	h.funder.Fund(asset, owner, amount)
	if req.Allowance != "" {
		allowance, _ := units.ParseInteger(req.Allowance)
		h.funder.Approve(asset, owner, allowance)
	}

	h.logger.InfoContext(r.Context(), "Custody wallet funded",
		slog.String("caller", caller.Hex()),
		slog.String("owner", owner.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()))

	h.sendJSON(w, map[string]interface{}{
		"owner":  owner.Hex(),
		"asset":  asset.Hex(),
		"amount": amount.String(),
	}, http.StatusOK)
}

// SetPriceHandler publishes a new manual price round. Admin only.
func (h *APIHandler) SetPriceHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req PriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.verifySignature(w, r, "price", caller, req.Price) {
		return
	}
	if !h.requireAdmin(w, r, caller) {
		return
	}

	price, err := units.Parse(req.Price, domain.OracleDecimals)
	if err != nil || price.Sign() <= 0 {
		h.sendError(w, "price must be a positive decimal with at most 8 fractional digits", http.StatusBadRequest, "INVALID_PRICE")
		return
	}
	h.prices.Set(price)

	h.logger.InfoContext(r.Context(), "Manual price updated",
		slog.String("caller", caller.Hex()),
		slog.String("price", req.Price))

	h.sendJSON(w, map[string]interface{}{
		"price":      units.Format(price, domain.OracleDecimals),
		"base_units": price.String(),
	}, http.StatusOK)
}

func (h *APIHandler) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	assets, err := h.registry.Assets(r.Context())
	if err != nil {
		h.sendLedgerError(w, "Failed to list assets", err)
		return
	}
	h.sendJSON(w, assets, http.StatusOK)
}

// ListEventsHandler returns a user's events newest first, or, when from and to
// (RFC 3339) are given instead of user, every event in that window.
func (h *APIHandler) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		events []*domain.LedgerEvent
		err    error
	)
	if q.Get("user") == "" && q.Get("from") != "" {
		from, fromErr := time.Parse(time.RFC3339, q.Get("from"))
		to, toErr := time.Parse(time.RFC3339, q.Get("to"))
		if fromErr != nil || toErr != nil || to.Before(from) {
			h.sendError(w, "from and to must be RFC 3339 times with from <= to", http.StatusBadRequest, "VALIDATION_ERROR")
			return
		}
		events, err = h.events.GetByPeriod(r.Context(), from, to)
	} else {
		if err := h.validator.Var(q.Get("user"), "required,eth_addr"); err != nil {
			h.sendError(w, "user must be an address", http.StatusBadRequest, "VALIDATION_ERROR")
			return
		}
		limit := intParam(q.Get("limit"), 50)
		offset := intParam(q.Get("offset"), 0)
		events, err = h.events.GetByUser(r.Context(), common.HexToAddress(q.Get("user")), limit, offset)
	}
	if err != nil {
		h.sendLedgerError(w, "Failed to read events", err)
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, toEventResponse(evt))
	}
	h.sendJSON(w, out, http.StatusOK)
}

func (h *APIHandler) GetEventHandler(w http.ResponseWriter, r *http.Request) {
	evt, err := h.events.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, repository.ErrNotFound) {
		h.sendError(w, "Event not found", http.StatusNotFound, "NOT_FOUND")
		return
	}
	if err != nil {
		h.sendLedgerError(w, "Failed to read event", err)
		return
	}
	h.sendJSON(w, toEventResponse(evt), http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.Header.Get(headerAccount)
	if err := h.validator.Var(raw, "required,eth_addr"); err != nil {
		h.sendError(w, "X-Account header must carry the caller address", http.StatusUnauthorized, "MISSING_ACCOUNT")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// verifySignature checks the X-Signature HMAC over action, caller, fields and X-Timestamp.
func (h *APIHandler) verifySignature(w http.ResponseWriter, r *http.Request, action string, caller common.Address, fields ...string) bool {
	ts, err := strconv.ParseInt(r.Header.Get(headerTimestamp), 10, 64)
	if err != nil {
		h.sendError(w, "X-Timestamp must be unix seconds", http.StatusUnauthorized, "INVALID_SIGNATURE")
		return false
	}
	if valid, err := h.signer.VerifyAction(action, caller.Hex(), ts, r.Header.Get(headerSignature), fields...); !valid || err != nil {
		h.sendError(w, "Invalid signature", http.StatusUnauthorized, "INVALID_SIGNATURE")
		return false
	}
	return true
}

func (h *APIHandler) requireAdmin(w http.ResponseWriter, r *http.Request, caller common.Address) bool {
	if h.registry.IsAdmin(caller) {
		return true
	}
	h.logger.WarnContext(r.Context(), "Rejected admin request", slog.String("caller", caller.Hex()))
	h.sendError(w, "caller is not an admin", http.StatusForbidden, "UNAUTHORIZED")
	return false
}

func (h *APIHandler) pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := r.PathValue(name)
	if err := h.validator.Var(raw, "required,eth_addr"); err != nil {
		h.sendError(w, name+" must be an address", http.StatusBadRequest, "VALIDATION_ERROR")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	errorResponse := ErrorResponse{
		Error: message,
		Code:  code,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) sendLedgerError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, slog.String("error", err.Error()))
	}

	errorResponse := ErrorResponse{
		Error:   message,
		Code:    domain.ErrorCode(err),
		Details: err.Error(),
	}
	h.sendJSON(w, errorResponse, status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrNativeValueMismatch),
		errors.Is(err, domain.ErrInvalidAsset),
		errors.Is(err, domain.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCapExceeded),
		errors.Is(err, domain.ErrWithdrawalLimitExceeded),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStaleOracleData),
		errors.Is(err, domain.ErrInvalidPrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func toEventResponse(evt *domain.LedgerEvent) EventResponse {
	return EventResponse{
		ID:           evt.ID,
		Type:         evt.Type,
		User:         evt.User.Hex(),
		Asset:        evt.Asset.Hex(),
		Amount:       evt.Amount.String(),
		UnitValue:    evt.UnitValue.String(),
		UnitValueUSD: units.Format(evt.UnitValue, domain.ReferenceDecimals),
		OccurredAt:   evt.OccurredAt,
	}
}

func intParam(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/deposits", h.DepositHandler)
	mux.HandleFunc("POST /api/v1/withdrawals", h.WithdrawHandler)
	mux.HandleFunc("GET /api/v1/vaults/{user}", h.ListVaultsHandler)
	mux.HandleFunc("GET /api/v1/vaults/{user}/{asset}", h.GetVaultHandler)
	mux.HandleFunc("GET /api/v1/stats", h.StatsHandler)
	mux.HandleFunc("GET /api/v1/users/{user}/total", h.TotalBalanceHandler)
	mux.HandleFunc("GET /api/v1/convert", h.ConvertHandler)
	mux.HandleFunc("GET /api/v1/assets", h.ListAssetsHandler)
	mux.HandleFunc("PUT /api/v1/assets/{asset}/precision", h.SetPrecisionHandler)
	mux.HandleFunc("GET /api/v1/events", h.ListEventsHandler)
	mux.HandleFunc("GET /api/v1/events/{id}", h.GetEventHandler)
	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)

	if h.funder != nil {
		mux.HandleFunc("POST /api/v1/custody/fund", h.FundHandler)
	}
	if h.prices != nil {
		mux.HandleFunc("PUT /api/v1/oracle/price", h.SetPriceHandler)
	}
}
