// Package pricefeed maintains a live, reconnecting subscription to the price
// update stream and fans updates out to observers.
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sljivkov/pricestream/domain"
	"github.com/sljivkov/pricestream/logger"
)

const (
	DefaultGracePeriod = time.Second
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultHistorySize = 10
)

// PriceCallback receives the latest price of one product
type PriceCallback func(price decimal.Decimal)

// UpdateObserver receives every accepted price update
type UpdateObserver func(ev domain.PriceUpdateEvent)

// StateObserver receives connection state transitions
type StateObserver func(state domain.ConnectionState)

// Client owns one price stream subscription together with the recent history
// and the current price table built from it.
//
// Event handling is serialised by dispatchMu in arrival order. mu guards the
// remaining fields and is never held while observers run. Every transport
// session and timer remembers the generation it was created in and is ignored
// once the generation has moved on.
type Client struct {
	transport   domain.Transport
	clock       Scheduler
	log         zerolog.Logger
	gracePeriod time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	historySize int

	dispatchMu sync.Mutex

	mu             sync.Mutex
	state          domain.ConnectionState
	generation     uint64
	cancel         context.CancelFunc
	graceTimer     Timer
	reconnectTimer Timer
	attempts       int
	backoff        *backoff.ExponentialBackOff
	exhausted      bool
	history        *history
	prices         map[int64]decimal.Decimal
	nextID         uint64
	priceSubs      map[int64]*observerList[decimal.Decimal]
	updateObs      observerList[domain.PriceUpdateEvent]
	stateObs       observerList[domain.ConnectionState]
}

// Option configures a Client
type Option func(*Client)

// WithGracePeriod sets how long an opened session may stay silent before it is
// considered connected
func WithGracePeriod(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.gracePeriod = d
		}
	}
}

// WithBackoff sets the reconnect delay base and cap
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		if base > 0 && maxDelay >= base {
			c.baseDelay = base
			c.maxDelay = maxDelay
		}
	}
}

// WithMaxAttempts sets the number of automatic reconnects after which the
// client gives up
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// WithHistorySize sets how many recent updates are kept
func WithHistorySize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithLogger replaces the component logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithScheduler replaces the timer source
func WithScheduler(s Scheduler) Option {
	return func(c *Client) {
		if s != nil {
			c.clock = s
		}
	}
}

// New creates a disconnected Client reading from transport
func New(transport domain.Transport, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		clock:       wallClock{},
		log:         logger.With("pricefeed"),
		gracePeriod: DefaultGracePeriod,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		maxAttempts: DefaultMaxAttempts,
		historySize: DefaultHistorySize,
		state:       domain.Disconnected,
		prices:      make(map[int64]decimal.Decimal),
		priceSubs:   make(map[int64]*observerList[decimal.Decimal]),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.history = newHistory(c.historySize)
	c.backoff = newBackoff(c.baseDelay, c.maxDelay)

	return c
}

// Connect opens the stream unless a session is already connecting or
// connected. Called after the client gave up, it starts over with a fresh
// retry budget; called while a reconnect is pending, it reconnects right away.
func (c *Client) Connect() {
	c.mu.Lock()

	switch c.state {
	case domain.Connecting, domain.Connected:
		state := c.state
		c.mu.Unlock()
		c.log.Debug().Str("state", string(state)).Msg("connect ignored, session already active")

		return
	case domain.Disconnected:
		c.resetAttemptsLocked()
		c.exhausted = false
	case domain.Error:
		stopTimer(&c.reconnectTimer)
	}

	notify, start := c.openLocked()
	c.mu.Unlock()

	notify()
	start()
}

// Disconnect closes the active session, cancels pending timers and resets the
// retry budget. It is safe to call at any time.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closeLocked()
	stopTimer(&c.reconnectTimer)
	c.resetAttemptsLocked()
	c.exhausted = false
	notify := c.transitionLocked(domain.Disconnected)
	c.mu.Unlock()

	notify()
}

// SubscribeToProductPrice calls fn with the current price of productID, if
// known, and then with every new price for it. It must not be called from
// inside a callback of the same Client.
func (c *Client) SubscribeToProductPrice(productID int64, fn PriceCallback) (unsubscribe func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	id := c.nextIDLocked()

	subs, ok := c.priceSubs[productID]
	if !ok {
		subs = &observerList[decimal.Decimal]{}
		c.priceSubs[productID] = subs
	}

	subs.add(id, fn)
	price, known := c.prices[productID]
	c.mu.Unlock()

	if known {
		fn(price)
	}

	return c.unsubscriber(func() {
		if subs, ok := c.priceSubs[productID]; ok && subs.remove(id) && subs.len() == 0 {
			delete(c.priceSubs, productID)
		}
	})
}

// OnUpdate registers fn for every accepted price update
func (c *Client) OnUpdate(fn UpdateObserver) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextIDLocked()
	c.updateObs.add(id, fn)
	c.mu.Unlock()

	return c.unsubscriber(func() { c.updateObs.remove(id) })
}

// OnStateChange registers fn for connection state transitions
func (c *Client) OnStateChange(fn StateObserver) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextIDLocked()
	c.stateObs.add(id, fn)
	c.mu.Unlock()

	return c.unsubscriber(func() { c.stateObs.remove(id) })
}

// Seed fills in prices for products the stream has not reported yet and
// notifies their subscribers. It returns how many entries were added.
func (c *Client) Seed(prices map[int64]decimal.Decimal) int {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	type delivery struct {
		price decimal.Decimal
		fns   []func(decimal.Decimal)
	}

	c.mu.Lock()

	var deliveries []delivery

	added := 0

	for id, price := range prices {
		if _, ok := c.prices[id]; ok {
			continue
		}

		c.prices[id] = price
		added++

		if subs, ok := c.priceSubs[id]; ok {
			deliveries = append(deliveries, delivery{price: price, fns: subs.snapshot()})
		}
	}
	c.mu.Unlock()

	for _, d := range deliveries {
		for _, fn := range d.fns {
			fn(d.price)
		}
	}

	return added
}

// State returns the current connection state
func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Attempts returns the number of reconnects scheduled since the last
// successful connection
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attempts
}

// Exhausted reports whether the client stopped reconnecting because the retry
// budget ran out. It is cleared by Connect and Disconnect.
func (c *Client) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exhausted
}

// RecentUpdates returns a copy of the recent history, newest first
func (c *Client) RecentUpdates() []domain.PriceUpdateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.history.snapshot()
}

// Prices returns a copy of the price table
func (c *Client) Prices() map[int64]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int64]decimal.Decimal, len(c.prices))
	for id, price := range c.prices {
		out[id] = price
	}

	return out
}

// Price returns the latest known price of one product
func (c *Client) Price(productID int64) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[productID]

	return price, ok
}

// openLocked starts a new generation in the connecting state. The returned
// functions must run after mu is released.
func (c *Client) openLocked() (notify, start func()) {
	c.generation++
	gen := c.generation

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	notify = c.transitionLocked(domain.Connecting)
	c.graceTimer = c.clock.AfterFunc(c.gracePeriod, func() { c.handleGrace(gen) })

	s := &session{
		client: c,
		gen:    gen,
		log:    c.log.With().Str("session", uuid.NewString()).Logger(),
	}
	s.log.Debug().Uint64("generation", gen).Int("attempt", c.attempts).Msg("opening price stream")

	return notify, func() { c.transport.Open(ctx, s) }
}

// closeLocked ends the current generation and releases its transport
func (c *Client) closeLocked() {
	c.generation++

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	stopTimer(&c.graceTimer)
}

// transitionLocked sets the state and returns the observer notification to run
// once mu is released
func (c *Client) transitionLocked(next domain.ConnectionState) func() {
	if c.state == next {
		return func() {}
	}

	prev := c.state
	c.state = next
	c.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("connection state changed")

	fns := c.stateObs.snapshot()

	return func() {
		for _, fn := range fns {
			fn(next)
		}
	}
}

func (c *Client) handleGrace(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != domain.Connecting {
		c.mu.Unlock()

		return
	}

	c.graceTimer = nil
	c.resetAttemptsLocked()
	notify := c.transitionLocked(domain.Connected)
	c.mu.Unlock()

	notify()
}

func (c *Client) handleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != domain.Error {
		c.mu.Unlock()

		return
	}

	c.reconnectTimer = nil
	attempt := c.attempts
	notify, start := c.openLocked()
	c.mu.Unlock()

	c.log.Info().Int("attempt", attempt).Msg("🔄 reconnecting to price stream")
	notify()
	start()
}

func (c *Client) handleMessage(s *session, data []byte) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	stale := s.gen != c.generation
	c.mu.Unlock()

	if stale {
		return
	}

	ev, err := domain.ParsePriceUpdate(data)
	if err != nil {
		s.log.Warn().Err(err).Str("payload", string(data)).Msg("⚠️ dropping malformed price update")

		return
	}

	c.mu.Lock()
	if s.gen != c.generation {
		c.mu.Unlock()

		return
	}

	notify := func() {}
	if c.state != domain.Connected {
		stopTimer(&c.graceTimer)
		c.resetAttemptsLocked()
		notify = c.transitionLocked(domain.Connected)
	}

	stopTimer(&c.reconnectTimer)
	c.history.push(ev)
	c.prices[ev.ProductID] = ev.NewPrice

	var priceFns []func(decimal.Decimal)
	if subs, ok := c.priceSubs[ev.ProductID]; ok {
		priceFns = subs.snapshot()
	}

	updateFns := c.updateObs.snapshot()
	c.mu.Unlock()

	notify()

	for _, fn := range priceFns {
		fn(ev.NewPrice)
	}

	for _, fn := range updateFns {
		fn(ev)
	}
}

func (c *Client) handleError(s *session, err error) {
	c.mu.Lock()
	if s.gen != c.generation {
		c.mu.Unlock()
		s.log.Debug().Err(err).Msg("ignoring error from superseded session")

		return
	}

	c.closeLocked()
	failed := c.transitionLocked(domain.Error)

	if c.attempts < c.maxAttempts {
		delay := c.backoff.NextBackOff()
		c.attempts++
		attempt := c.attempts
		gen := c.generation
		c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.handleReconnect(gen) })
		c.mu.Unlock()

		s.log.Warn().Err(err).Dur("delay", delay).Int("attempt", attempt).Msg("🔴 price stream failed, reconnect scheduled")
		failed()

		return
	}

	c.exhausted = true
	down := c.transitionLocked(domain.Disconnected)
	c.mu.Unlock()

	s.log.Error().Err(err).Int("max_attempts", c.maxAttempts).Msg("⛔ price stream failed, giving up after max reconnect attempts")
	failed()
	down()
}

func (c *Client) resetAttemptsLocked() {
	c.attempts = 0
	c.backoff.Reset()
}

func (c *Client) nextIDLocked() uint64 {
	c.nextID++

	return c.nextID
}

// unsubscriber wraps remove so it runs under mu at most once
func (c *Client) unsubscriber(remove func()) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			remove()
		})
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// session binds transport callbacks to the generation that opened them
type session struct {
	client *Client
	gen    uint64
	log    zerolog.Logger
}

func (s *session) OnMessage(data []byte) {
	s.client.handleMessage(s, data)
}

func (s *session) OnError(err error) {
	s.client.handleError(s, err)
}
