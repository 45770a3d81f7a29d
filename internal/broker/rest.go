package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

// authResponse is the auth/accesstokenrequest reply.
type authResponse struct {
	AccessToken    string `json:"accessToken"`
	MdAccessToken  string `json:"mdAccessToken"`
	UserID         int64  `json:"userId"`
	ExpirationTime string `json:"expirationTime"`
	ErrorText      string `json:"errorText"`
	PenaltyTicket  string `json:"p-ticket"`
	PenaltyTime    int    `json:"p-time"`
}

// restClient owns the authenticated REST session: token lifecycle, rate
// limiting, account selection and the raw Tradovate endpoints. The trading
// API and the market data API live on different hosts, hence two HTTP
// clients with identical settings.
type restClient struct {
	cfg     config.BrokerConfig
	http    *resty.Client
	md      *resty.Client
	limiter *rate.Limiter

	mu          sync.RWMutex
	accessToken string
	mdToken     string
	tokenExpiry time.Time
	userID      int64
	accounts    []Account
	accountID   int64

	contractMu sync.RWMutex
	contracts  map[string]Contract // symbol -> contract
	symbolByID map[int64]string
}

func newRESTClient(cfg config.BrokerConfig) *restClient {
	newHTTP := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.RequestTimeout()).
			SetRetryCount(2).
			SetRetryWaitTime(500*time.Millisecond).
			SetRetryMaxWaitTime(5*time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= http.StatusInternalServerError
			}).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
	}

	return &restClient{
		cfg:        cfg,
		http:       newHTTP(cfg.RESTBaseURL()),
		md:         newHTTP(cfg.MarketDataBaseURL()),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		contracts:  make(map[string]Contract),
		symbolByID: make(map[int64]string),
	}
}

// authenticate requests a fresh access token. Safe to call at any point;
// it replaces the stored session on success.
func (r *restClient) authenticate(ctx context.Context) error {
	body := map[string]any{
		"name":       r.cfg.Username,
		"password":   r.cfg.Password,
		"appId":      r.cfg.AppID,
		"appVersion": r.cfg.AppVersion,
		"deviceId":   r.cfg.DeviceID,
	}
	// API key credentials ride along only when both halves are configured
	if r.cfg.CID != 0 && r.cfg.Secret != "" {
		body["cid"] = r.cfg.CID
		body["sec"] = r.cfg.Secret
	}

	start := time.Now()
	var auth authResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&auth).
		Post("/auth/accesstokenrequest")
	metrics.RecordBrokerAPICall("auth/accesstokenrequest", float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return fmt.Errorf("failed to request access token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: auth returned status %d: %s", ErrRejected, resp.StatusCode(), resp.String())
	}
	if auth.PenaltyTicket != "" {
		return fmt.Errorf("%w: authentication penalty, retry after %ds", ErrRejected, auth.PenaltyTime)
	}
	if auth.AccessToken == "" {
		reason := auth.ErrorText
		if reason == "" {
			reason = "no access token in response"
		}
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	expiry, err := time.Parse(time.RFC3339, auth.ExpirationTime)
	if err != nil {
		// Tokens are typically good for 24h when the broker omits the field
		expiry = time.Now().UTC().Add(24 * time.Hour)
	}

	r.mu.Lock()
	r.accessToken = auth.AccessToken
	r.mdToken = auth.MdAccessToken
	r.tokenExpiry = expiry
	r.userID = auth.UserID
	r.mu.Unlock()

	metrics.RecordAuthRenewal()
	log.Info().
		Int64("user_id", auth.UserID).
		Time("token_expiry", expiry).
		Bool("demo", r.cfg.Demo).
		Msg("Broker authentication successful")
	return nil
}

// ensureAuthenticated re-authenticates proactively when the token is close
// to expiry. Returns ErrNotAuthenticated when no session exists at all.
func (r *restClient) ensureAuthenticated(ctx context.Context) error {
	r.mu.RLock()
	token := r.accessToken
	expiry := r.tokenExpiry
	r.mu.RUnlock()

	if token == "" {
		return ErrNotAuthenticated
	}
	if time.Until(expiry) < r.cfg.ReauthMargin() {
		log.Info().Time("token_expiry", expiry).Msg("Access token expiring soon, re-authenticating")
		if err := r.authenticate(ctx); err != nil {
			return fmt.Errorf("failed to re-authenticate: %w", err)
		}
	}
	return nil
}

func (r *restClient) token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accessToken
}

// marketToken returns the market data token, falling back to the session
// token when the broker did not issue a separate one.
func (r *restClient) marketToken() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.mdToken != "" {
		return r.mdToken
	}
	return r.accessToken
}

func (r *restClient) currentAccountID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accountID
}

func (r *restClient) accountList() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// do runs one authenticated request with rate limiting and a single
// reactive re-authentication on 401.
func (r *restClient) do(ctx context.Context, client *resty.Client, method, path string, params map[string]string, body, result any) error {
	if err := r.ensureAuthenticated(ctx); err != nil {
		return err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to acquire request slot: %w", err)
	}

	start := time.Now()
	resp, err := r.send(ctx, client, method, path, params, body, result)
	if err != nil {
		metrics.RecordBrokerAPICall(path, float64(time.Since(start).Milliseconds()), err)
		return fmt.Errorf("request %s failed: %w", path, err)
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		log.Warn().Str("endpoint", path).Msg("Request unauthorized, re-authenticating once")
		if err := r.authenticate(ctx); err != nil {
			return fmt.Errorf("failed to re-authenticate after 401: %w", err)
		}
		resp, err = r.send(ctx, client, method, path, params, body, result)
		if err != nil {
			metrics.RecordBrokerAPICall(path, float64(time.Since(start).Milliseconds()), err)
			return fmt.Errorf("request %s failed after re-auth: %w", path, err)
		}
	}

	switch {
	case resp.IsSuccess():
		metrics.RecordBrokerAPICall(path, float64(time.Since(start).Milliseconds()), nil)
		return nil
	case resp.StatusCode() == http.StatusUnauthorized:
		metrics.RecordBrokerAPICall(path, float64(time.Since(start).Milliseconds()), ErrNotAuthenticated)
		return fmt.Errorf("%w: %s still unauthorized after re-auth", ErrNotAuthenticated, path)
	case resp.StatusCode() == http.StatusTooManyRequests:
		err := fmt.Errorf("%w: %s rate limited: %s", ErrRejected, path, resp.String())
		metrics.RecordBrokerAPICall(path, float64(time.Since(start).Milliseconds()), err)
		return err
	default:
		err := fmt.Errorf("%w: %s returned status %d: %s", ErrRejected, path, resp.StatusCode(), resp.String())
		metrics.RecordBrokerAPICall(path, float64(time.Since(start).Milliseconds()), err)
		return err
	}
}

func (r *restClient) send(ctx context.Context, client *resty.Client, method, path string, params map[string]string, body, result any) (*resty.Response, error) {
	req := client.R().
		SetContext(ctx).
		SetAuthToken(r.token())
	if params != nil {
		req.SetQueryParams(params)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	return req.Execute(method, path)
}

func (r *restClient) get(ctx context.Context, path string, params map[string]string, result any) error {
	return r.do(ctx, r.http, http.MethodGet, path, params, nil, result)
}

func (r *restClient) post(ctx context.Context, path string, body, result any) error {
	return r.do(ctx, r.http, http.MethodPost, path, nil, body, result)
}

func (r *restClient) mdGet(ctx context.Context, path string, params map[string]string, result any) error {
	return r.do(ctx, r.md, http.MethodGet, path, params, nil, result)
}

// ===== ACCOUNTS =====

// loadAccounts fetches the account list and selects the first account as
// the active trading account.
func (r *restClient) loadAccounts(ctx context.Context) error {
	var accounts []Account
	if err := r.get(ctx, "/account/list", nil, &accounts); err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	r.mu.Lock()
	r.accounts = accounts
	if len(accounts) > 0 {
		r.accountID = accounts[0].ID
	}
	r.mu.Unlock()

	if len(accounts) == 0 {
		log.Warn().Msg("No trading accounts found for credentials")
		return nil
	}
	log.Info().
		Int("count", len(accounts)).
		Int64("default_account", accounts[0].ID).
		Msg("Trading accounts loaded")
	return nil
}

func (r *restClient) balanceSnapshot(ctx context.Context) (*Balance, error) {
	var balance Balance
	params := map[string]string{"accountId": strconv.FormatInt(r.currentAccountID(), 10)}
	if err := r.get(ctx, "/cashBalance/getCashBalanceSnapshot", params, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ===== CONTRACTS =====

// findContract resolves a symbol to its contract, caching results so the
// order path does not hit the lookup endpoint on every placement.
func (r *restClient) findContract(ctx context.Context, symbol string) (Contract, error) {
	r.contractMu.RLock()
	cached, ok := r.contracts[symbol]
	r.contractMu.RUnlock()
	if ok {
		return cached, nil
	}

	var contract Contract
	if err := r.get(ctx, "/contract/find", map[string]string{"name": symbol}, &contract); err != nil {
		return Contract{}, err
	}
	if contract.ID == 0 {
		return Contract{}, fmt.Errorf("%w: %s", ErrContractNotFound, symbol)
	}

	r.contractMu.Lock()
	r.contracts[symbol] = contract
	r.symbolByID[contract.ID] = symbol
	r.contractMu.Unlock()
	return contract, nil
}

// symbolForContract resolves a contract id back to a symbol when a prior
// lookup cached it; otherwise the id's decimal form stands in.
func (r *restClient) symbolForContract(contractID int64) string {
	r.contractMu.RLock()
	defer r.contractMu.RUnlock()
	if symbol, ok := r.symbolByID[contractID]; ok {
		return symbol
	}
	return strconv.FormatInt(contractID, 10)
}

// ===== POSITIONS AND ORDERS =====

type rawPosition struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	NetPos     int     `json:"netPos"`
	NetPrice   float64 `json:"netPrice"`
	Timestamp  string  `json:"timestamp"`
}

func (r *restClient) positionList(ctx context.Context) ([]Position, error) {
	var raw []rawPosition
	params := map[string]string{"accountId": strconv.FormatInt(r.currentAccountID(), 10)}
	if err := r.get(ctx, "/position/list", params, &raw); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, Position{
			ContractID: p.ContractID,
			Symbol:     r.symbolForContract(p.ContractID),
			NetPos:     p.NetPos,
			NetPrice:   p.NetPrice,
			Timestamp:  parseBrokerTime(p.Timestamp),
		})
	}
	return positions, nil
}

type rawOrder struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"accountId"`
	ContractID int64  `json:"contractId"`
	Action     string `json:"action"`
	OrdStatus  string `json:"ordStatus"`
	Timestamp  string `json:"timestamp"`
}

func (r *restClient) orderList(ctx context.Context) ([]OrderState, error) {
	var raw []rawOrder
	params := map[string]string{"accountId": strconv.FormatInt(r.currentAccountID(), 10)}
	if err := r.get(ctx, "/order/list", params, &raw); err != nil {
		return nil, err
	}

	orders := make([]OrderState, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, OrderState{
			ID:         o.ID,
			AccountID:  o.AccountID,
			ContractID: o.ContractID,
			Symbol:     r.symbolForContract(o.ContractID),
			Action:     Action(o.Action),
			Status:     o.OrdStatus,
			Timestamp:  parseBrokerTime(o.Timestamp),
		})
	}
	return orders, nil
}

// ===== ORDER PLACEMENT =====

func (r *restClient) placeOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body := map[string]any{
		"accountSpec": r.cfg.Username,
		"accountId":   r.currentAccountID(),
		"action":      string(req.Action),
		"symbol":      req.Symbol,
		"orderQty":    req.Qty,
		"orderType":   string(req.Type),
		"isAutomated": true,
	}
	if req.Price != 0 {
		body["price"] = req.Price
	}
	if req.StopPrice != 0 {
		body["stopPrice"] = req.StopPrice
	}

	var result OrderResult
	if err := r.post(ctx, "/order/placeorder", body, &result); err != nil {
		return nil, err
	}
	if result.OrderID == 0 {
		return &result, fmt.Errorf("%w: %s", ErrRejected, placementFailure(result))
	}

	metrics.RecordOrderPlaced(string(req.Type))
	log.Info().
		Int64("order_id", result.OrderID).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Str("order_type", string(req.Type)).
		Int("qty", req.Qty).
		Msg("Order placed")
	return &result, nil
}

// placeOSO places a market entry with stop-loss (bracket1, Stop) and
// take-profit (bracket2, Limit) legs on the opposite side.
func (r *restClient) placeOSO(ctx context.Context, req BracketRequest) (*OrderResult, error) {
	exit := req.Action.Opposite()
	body := map[string]any{
		"accountSpec": r.cfg.Username,
		"accountId":   r.currentAccountID(),
		"action":      string(req.Action),
		"symbol":      req.Symbol,
		"orderQty":    req.Qty,
		"orderType":   string(OrderTypeMarket),
		"isAutomated": true,
		"bracket1": map[string]any{
			"action":    string(exit),
			"orderType": string(OrderTypeStop),
			"stopPrice": req.StopLoss,
		},
		"bracket2": map[string]any{
			"action":    string(exit),
			"orderType": string(OrderTypeLimit),
			"price":     req.TakeProfit,
		},
	}

	var result OrderResult
	if err := r.post(ctx, "/order/placeoso", body, &result); err != nil {
		return nil, err
	}
	if result.OrderID == 0 {
		return &result, fmt.Errorf("%w: %s", ErrRejected, placementFailure(result))
	}

	metrics.RecordOrderPlaced("Bracket")
	log.Info().
		Int64("order_id", result.OrderID).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Int("qty", req.Qty).
		Float64("stop_loss", req.StopLoss).
		Float64("take_profit", req.TakeProfit).
		Msg("Bracket order placed")
	return &result, nil
}

func placementFailure(result OrderResult) string {
	if result.FailureText != "" {
		return result.FailureText
	}
	if result.FailureReason != "" {
		return result.FailureReason
	}
	return "order placement failed"
}

func (r *restClient) cancelOrder(ctx context.Context, orderID int64) error {
	body := map[string]any{"orderId": orderID}
	var result OrderResult
	if err := r.post(ctx, "/order/cancelorder", body, &result); err != nil {
		return err
	}
	if result.FailureReason != "" || result.FailureText != "" {
		return fmt.Errorf("%w: cancel order %d: %s", ErrRejected, orderID, placementFailure(result))
	}
	log.Info().Int64("order_id", orderID).Msg("Order cancelled")
	return nil
}

func (r *restClient) modifyOrder(ctx context.Context, orderID int64, mod OrderModification) error {
	body := map[string]any{"orderId": orderID}
	if mod.Qty != 0 {
		body["orderQty"] = mod.Qty
	}
	if mod.Price != 0 {
		body["price"] = mod.Price
	}
	if mod.StopPrice != 0 {
		body["stopPrice"] = mod.StopPrice
	}

	var result OrderResult
	if err := r.post(ctx, "/order/modifyorder", body, &result); err != nil {
		return err
	}
	if result.FailureReason != "" || result.FailureText != "" {
		return fmt.Errorf("%w: modify order %d: %s", ErrRejected, orderID, placementFailure(result))
	}
	return nil
}

func (r *restClient) liquidatePosition(ctx context.Context, symbol string) error {
	contract, err := r.findContract(ctx, symbol)
	if err != nil {
		return err
	}

	body := map[string]any{
		"accountId":  r.currentAccountID(),
		"contractId": contract.ID,
	}
	var result OrderResult
	if err := r.post(ctx, "/order/liquidateposition", body, &result); err != nil {
		return err
	}
	log.Info().Str("symbol", symbol).Msg("Position liquidated")
	return nil
}

// ===== HISTORICAL DATA =====

// getChart fetches historical minute bars over REST. Bars come back
// oldest-first and are passed through in that order.
func (r *restClient) getChart(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]Bar, error) {
	params := map[string]string{
		"symbol":         symbol,
		"chartType":      "MinuteBar",
		"interval":       strconv.Itoa(intervalMinutes),
		"startTimestamp": from.UTC().Format(time.RFC3339),
		"endTimestamp":   to.UTC().Format(time.RFC3339),
	}

	var payload struct {
		Bars []map[string]any `json:"bars"`
	}
	if err := r.mdGet(ctx, "/md/getChart", params, &payload); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(payload.Bars))
	for _, raw := range payload.Bars {
		bar, _, err := parseBarFields(raw)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping unparsable historical bar")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
