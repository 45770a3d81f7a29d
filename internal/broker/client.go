package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

const (
	marketEventBuffer = 1024
	userEventBuffer   = 256

	defaultReconnectBase = time.Second
	defaultReconnectMax  = 60 * time.Second

	// Budget for one reconnect attempt: dial, authorize, resubscribe
	reconnectAttemptTimeout = 30 * time.Second

	// Trailing bars requested with a live chart subscription, enough to
	// prime the forming bar
	liveChartElements = 2
)

// Client is the live Broker implementation: an authenticated REST session
// plus the market data and trading streams, with automatic reconnect and
// resubscription.
type Client struct {
	cfg  config.BrokerConfig
	rest *restClient

	marketURL  string
	tradingURL string

	marketEvents chan MarketEvent
	userEvents   chan UserEvent

	mu          sync.Mutex
	marketSock  *socket
	tradingSock *socket
	connected   bool

	subMu     sync.Mutex
	quoteSubs map[string]struct{}
	chartSubs map[string]int // symbol -> bar interval minutes

	reconnectBase time.Duration
	reconnectMax  time.Duration
	replyTimeout  time.Duration // overrides the socket default when set

	marketRedial  atomic.Bool
	tradingRedial atomic.Bool

	lifeCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Broker = (*Client)(nil)

// New creates a disconnected client for the configured environment.
func New(cfg config.BrokerConfig) *Client {
	return &Client{
		cfg:           cfg,
		rest:          newRESTClient(cfg),
		marketURL:     cfg.MarketSocketURL(),
		tradingURL:    cfg.TradingSocketURL(),
		marketEvents:  make(chan MarketEvent, marketEventBuffer),
		userEvents:    make(chan UserEvent, userEventBuffer),
		quoteSubs:     make(map[string]struct{}),
		chartSubs:     make(map[string]int),
		reconnectBase: defaultReconnectBase,
		reconnectMax:  defaultReconnectMax,
	}
}

// Connect authenticates, loads accounts, opens both streams and issues the
// initial user sync.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.rest.authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with broker: %w", err)
	}
	if err := c.rest.loadAccounts(ctx); err != nil {
		return err
	}

	lifeCtx, cancel := context.WithCancel(context.Background())

	market, err := c.dialMarket(ctx)
	if err != nil {
		cancel()
		return err
	}
	trading, err := c.dialTrading(ctx)
	if err != nil {
		market.Close()
		cancel()
		return err
	}

	c.mu.Lock()
	c.lifeCtx, c.cancel = lifeCtx, cancel
	c.marketSock, c.tradingSock = market, trading
	c.connected = true
	c.mu.Unlock()

	// Prime the user stream with current orders, positions and fills
	if err := c.userSync(ctx, trading); err != nil {
		log.Warn().Err(err).Msg("Initial user sync failed")
	}

	log.Info().
		Bool("demo", c.cfg.Demo).
		Int64("account_id", c.rest.currentAccountID()).
		Msg("Broker connected")
	return nil
}

// Disconnect cancels reconnect loops and closes both streams. The event
// channels stay open; consumers stop on their own context.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	market, trading := c.marketSock, c.tradingSock
	c.marketSock, c.tradingSock = nil, nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if market != nil {
		market.Close()
	}
	if trading != nil {
		trading.Close()
	}
	c.wg.Wait()

	log.Info().Msg("Broker disconnected")
	return nil
}

// Connected reports whether Connect has succeeded and Disconnect has not
// been called. Individual streams may still be mid-reconnect.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Accounts returns the accounts loaded at connect time.
func (c *Client) Accounts() []Account {
	return c.rest.accountList()
}

func (c *Client) MarketEvents() <-chan MarketEvent { return c.marketEvents }
func (c *Client) UserEvents() <-chan UserEvent     { return c.userEvents }

// ===== SUBSCRIPTIONS =====

// SubscribeQuote starts real-time quotes for a symbol and records the
// subscription for replay after reconnect.
func (c *Client) SubscribeQuote(ctx context.Context, symbol string) error {
	sock := c.market()
	if sock == nil {
		return ErrNotConnected
	}

	msg, err := sock.requestJSON(ctx, "md/subscribeQuote", map[string]string{"symbol": symbol})
	if err != nil {
		return fmt.Errorf("failed to subscribe quotes for %s: %w", symbol, err)
	}
	if msg.Status >= http.StatusBadRequest {
		return fmt.Errorf("%w: quote subscription for %s returned status %d", ErrRejected, symbol, msg.Status)
	}

	c.subMu.Lock()
	c.quoteSubs[symbol] = struct{}{}
	c.subMu.Unlock()

	log.Info().Str("symbol", symbol).Msg("Subscribed to quotes")
	return nil
}

// SubscribeBars starts live minute-bar updates for a symbol and records
// the subscription for replay after reconnect.
func (c *Client) SubscribeBars(ctx context.Context, symbol string, intervalMinutes int) error {
	sock := c.market()
	if sock == nil {
		return ErrNotConnected
	}

	msg, err := sock.requestJSON(ctx, "md/getChart", chartRequest(symbol, intervalMinutes))
	if err != nil {
		return fmt.Errorf("failed to subscribe bars for %s: %w", symbol, err)
	}
	if msg.Status >= http.StatusBadRequest {
		return fmt.Errorf("%w: bar subscription for %s returned status %d", ErrRejected, symbol, msg.Status)
	}

	c.subMu.Lock()
	c.chartSubs[symbol] = intervalMinutes
	c.subMu.Unlock()

	log.Info().Str("symbol", symbol).Int("interval_minutes", intervalMinutes).Msg("Subscribed to bars")
	return nil
}

func chartRequest(symbol string, intervalMinutes int) map[string]any {
	return map[string]any{
		"symbol": symbol,
		"chartDescription": map[string]any{
			"underlyingType":  "MinuteBar",
			"elementSize":     intervalMinutes,
			"elementSizeUnit": "UnderlyingUnits",
		},
		"timeRange": map[string]any{
			"asMuchAsElements": liveChartElements,
		},
	}
}

// ===== ORDERS AND ACCOUNT =====

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return c.rest.placeOrder(ctx, req)
}

func (c *Client) PlaceBracket(ctx context.Context, req BracketRequest) (*OrderResult, error) {
	return c.rest.placeOSO(ctx, req)
}

func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	return c.rest.cancelOrder(ctx, orderID)
}

func (c *Client) ModifyOrder(ctx context.Context, orderID int64, mod OrderModification) error {
	return c.rest.modifyOrder(ctx, orderID, mod)
}

func (c *Client) Liquidate(ctx context.Context, symbol string) error {
	return c.rest.liquidatePosition(ctx, symbol)
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	return c.rest.positionList(ctx)
}

func (c *Client) Orders(ctx context.Context) ([]OrderState, error) {
	return c.rest.orderList(ctx)
}

func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	return c.rest.balanceSnapshot(ctx)
}

func (c *Client) HistoricalBars(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]Bar, error) {
	return c.rest.getChart(ctx, symbol, intervalMinutes, from, to)
}

// ===== STREAM MANAGEMENT =====

func (c *Client) market() *socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marketSock
}

func (c *Client) trading() *socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tradingSock
}

func (c *Client) dialMarket(ctx context.Context) (*socket, error) {
	sock, err := dialSocket(ctx, socketMarket, c.marketURL, c.rest.marketToken(),
		c.cfg.HeartbeatInterval(), c.handleMarketMessage, func(err error) {
			c.streamLost(socketMarket, err)
		})
	if err == nil && c.replyTimeout > 0 {
		sock.replyTimeout = c.replyTimeout
	}
	return sock, err
}

func (c *Client) dialTrading(ctx context.Context) (*socket, error) {
	sock, err := dialSocket(ctx, socketTrading, c.tradingURL, c.rest.token(),
		c.cfg.HeartbeatInterval(), c.handleUserMessage, func(err error) {
			c.streamLost(socketTrading, err)
		})
	if err == nil && c.replyTimeout > 0 {
		sock.replyTimeout = c.replyTimeout
	}
	return sock, err
}

func (c *Client) userSync(ctx context.Context, sock *socket) error {
	if _, err := sock.requestJSON(ctx, "user/syncrequest", map[string]any{"users": []int64{}}); err != nil {
		return fmt.Errorf("failed to request user sync: %w", err)
	}
	return nil
}

func (c *Client) handleMarketMessage(msg serverMessage) {
	for _, ev := range parseMarketEvents(msg, c.rest.symbolForContract) {
		switch ev.(type) {
		case QuoteEvent:
			metrics.RecordMarketDataEvent("quote")
		case BarEvent:
			metrics.RecordMarketDataEvent("bar")
		case DOMEvent:
			metrics.RecordMarketDataEvent("dom")
		case TickEvent:
			metrics.RecordMarketDataEvent("tick")
		}
		c.pushMarket(ev)
	}
}

func (c *Client) handleUserMessage(msg serverMessage) {
	for _, ev := range parseUserEvents(msg, c.rest.symbolForContract) {
		switch ev.(type) {
		case OrderEvent:
			metrics.RecordMarketDataEvent("order")
		case PositionEvent:
			metrics.RecordMarketDataEvent("position")
		case FillEvent:
			metrics.RecordMarketDataEvent("fill")
		}
		c.pushUser(ev)
	}
}

// pushMarket delivers without blocking the read pump: when the buffer is
// full the oldest event is dropped in favor of the newest.
func (c *Client) pushMarket(ev MarketEvent) {
	select {
	case c.marketEvents <- ev:
		return
	default:
	}
	select {
	case <-c.marketEvents:
	default:
	}
	select {
	case c.marketEvents <- ev:
	default:
	}
}

func (c *Client) pushUser(ev UserEvent) {
	select {
	case c.userEvents <- ev:
		return
	default:
	}
	select {
	case <-c.userEvents:
	default:
	}
	select {
	case c.userEvents <- ev:
	default:
	}
}

// streamLost is the socket close handler: it notifies consumers and kicks
// off the reconnect loop. At most one loop runs per socket; a close
// reported while one is already in flight is left to that loop.
func (c *Client) streamLost(name string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	log.Warn().Str("socket", name).Err(err).Msg("Stream connection lost")
	c.emitStatus(name, false, reason)

	flag := c.redialFlag(name)
	if !flag.CompareAndSwap(false, true) {
		log.Debug().Str("socket", name).Msg("Reconnect already in flight")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer flag.Store(false)
		c.reconnectLoop(name)
	}()
}

func (c *Client) redialFlag(name string) *atomic.Bool {
	if name == socketMarket {
		return &c.marketRedial
	}
	return &c.tradingRedial
}

func (c *Client) emitStatus(name string, up bool, reason string) {
	status := StreamStatus{Socket: name, Up: up, Reason: reason, Timestamp: time.Now().UTC()}
	if name == socketMarket {
		c.pushMarket(status)
	} else {
		c.pushUser(status)
	}
}

// reconnectLoop retries with exponential backoff, 1s doubling to the 60s
// cap, until the stream is back or the client is shut down.
func (c *Client) reconnectLoop(name string) {
	c.mu.Lock()
	lifeCtx := c.lifeCtx
	c.mu.Unlock()
	if lifeCtx == nil {
		return
	}

	backoff := c.reconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-lifeCtx.Done():
			return
		case <-time.After(backoff):
		}

		log.Info().
			Str("socket", name).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Attempting stream reconnect")

		ctx, cancelAttempt := context.WithTimeout(lifeCtx, reconnectAttemptTimeout)
		err := c.redial(ctx, name)
		cancelAttempt()

		if err == nil {
			metrics.RecordSocketReconnect(name)
			log.Info().Str("socket", name).Int("attempts", attempt).Msg("Stream reconnected")
			c.emitStatus(name, true, "")
			return
		}

		log.Warn().Err(err).Str("socket", name).Msg("Stream reconnect failed")
		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
	}
}

// redial re-authenticates if needed, dials the named stream and restores
// its state: market subscriptions or the user sync.
func (c *Client) redial(ctx context.Context, name string) error {
	// Token may have aged out while the stream was down
	if err := c.rest.ensureAuthenticated(ctx); err != nil {
		return err
	}

	switch name {
	case socketMarket:
		sock, err := c.dialMarket(ctx)
		if err != nil {
			return err
		}
		// The socket only replaces the live one once its state is
		// restored; a failed restore closes it so the next attempt
		// cannot leak a second read pump (and a second close handler).
		if err := c.resubscribeMarket(ctx, sock); err != nil {
			sock.Close()
			return err
		}
		c.mu.Lock()
		c.marketSock = sock
		c.mu.Unlock()
		return nil

	case socketTrading:
		sock, err := c.dialTrading(ctx)
		if err != nil {
			return err
		}
		if err := c.userSync(ctx, sock); err != nil {
			sock.Close()
			return err
		}
		c.mu.Lock()
		c.tradingSock = sock
		c.mu.Unlock()
		return nil
	}
	return nil
}

func (c *Client) resubscribeMarket(ctx context.Context, sock *socket) error {
	c.subMu.Lock()
	quotes := make([]string, 0, len(c.quoteSubs))
	for symbol := range c.quoteSubs {
		quotes = append(quotes, symbol)
	}
	charts := make(map[string]int, len(c.chartSubs))
	for symbol, interval := range c.chartSubs {
		charts[symbol] = interval
	}
	c.subMu.Unlock()

	for _, symbol := range quotes {
		if _, err := sock.requestJSON(ctx, "md/subscribeQuote", map[string]string{"symbol": symbol}); err != nil {
			return fmt.Errorf("failed to restore quote subscription for %s: %w", symbol, err)
		}
	}
	for symbol, interval := range charts {
		if _, err := sock.requestJSON(ctx, "md/getChart", chartRequest(symbol, interval)); err != nil {
			return fmt.Errorf("failed to restore bar subscription for %s: %w", symbol, err)
		}
	}

	if len(quotes) > 0 || len(charts) > 0 {
		log.Info().
			Int("quotes", len(quotes)).
			Int("charts", len(charts)).
			Msg("Market subscriptions restored")
	}
	return nil
}
