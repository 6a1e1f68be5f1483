package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sljivkov/pricestream/apis"
	"github.com/sljivkov/pricestream/chains"
	"github.com/sljivkov/pricestream/config"
	"github.com/sljivkov/pricestream/domain"
	"github.com/sljivkov/pricestream/logger"
	"github.com/sljivkov/pricestream/pricefeed"
	"github.com/sljivkov/pricestream/store"
)

const (
	recordTimeout = 2 * time.Second
	recordBuffer  = 256
)

// pricesSource is anything that can supply a warm start price table
type pricesSource interface {
	Prices(ctx context.Context) (map[int64]decimal.Decimal, error)
}

// App wires the price feed client to its transport and optional sinks
type App struct {
	client   *pricefeed.Client
	catalog  pricesSource
	snapshot *store.RedisSnapshot
	records  chan domain.PriceUpdateEvent
	closers  []func()
	log      zerolog.Logger
}

// newTransport builds the transport selected by cfg.Source. The returned
// function releases its connection.
func newTransport(ctx context.Context, cfg *config.Config) (domain.Transport, func(), error) {
	switch cfg.Source {
	case config.SourceChain:
		ec, err := ethclient.DialContext(ctx, cfg.ChainRPC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial chain RPC: %w", err)
		}

		feed, err := chains.NewAdjustmentFeed(ec, cfg.Contract)
		if err != nil {
			ec.Close()

			return nil, nil, err
		}

		return feed, ec.Close, nil
	default:
		return apis.NewEventStream(cfg.FeedURL, nil), func() {}, nil
	}
}

// setup dials everything cfg enables and returns the assembled App
func setup(ctx context.Context, cfg *config.Config) (*App, error) {
	transport, closeTransport, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		catalog  pricesSource
		snapshot *store.RedisSnapshot
		closers  = []func(){closeTransport}
	)

	if cfg.CatalogURL != "" {
		catalog = apis.NewCatalog(cfg.CatalogURL, apis.BearerToken(cfg.Token))
	}

	if cfg.RedisURL != "" {
		rdb, err := store.Dial(ctx, cfg.RedisURL, store.Timeouts{})
		if err != nil {
			closeTransport()

			return nil, err
		}

		snapshot = store.NewRedisSnapshot(rdb, cfg.RedisPrefix, cfg.HistorySize)
		closers = append(closers, func() { _ = rdb.Close() })
	}

	client := pricefeed.New(transport,
		pricefeed.WithGracePeriod(cfg.GracePeriod),
		pricefeed.WithBackoff(cfg.BaseDelay, cfg.MaxDelay),
		pricefeed.WithMaxAttempts(cfg.MaxAttempts),
		pricefeed.WithHistorySize(cfg.HistorySize),
	)

	app := NewApp(client, catalog, snapshot)
	app.closers = closers

	return app, nil
}

// NewApp registers the logging and snapshot observers on client. catalog and
// snapshot may be nil.
func NewApp(client *pricefeed.Client, catalog pricesSource, snapshot *store.RedisSnapshot) *App {
	app := &App{
		client:   client,
		catalog:  catalog,
		snapshot: snapshot,
		log:      logger.With("app"),
	}

	if snapshot != nil {
		app.records = make(chan domain.PriceUpdateEvent, recordBuffer)
	}

	client.OnUpdate(app.onUpdate)
	client.OnStateChange(app.onStateChange)

	return app
}

func (a *App) onUpdate(ev domain.PriceUpdateEvent) {
	a.log.Info().
		Int64("product_id", ev.ProductID).
		Str("product", ev.ProductName).
		Str("price", ev.NewPrice.StringFixed(2)).
		Str("change", ev.PriceChange.StringFixed(2)).
		Str("type", string(ev.ChangeType)).
		Msg("📥 Received price update")

	if a.records == nil {
		return
	}

	select {
	case a.records <- ev:
	default:
		a.log.Warn().Int64("product_id", ev.ProductID).Msg("⚠️ snapshot queue full, update not recorded")
	}
}

// recordLoop writes queued updates to the snapshot until stop is closed, then
// flushes whatever is still queued
func (a *App) recordLoop(stop <-chan struct{}) {
	for {
		select {
		case ev := <-a.records:
			a.record(ev)
		case <-stop:
			for {
				select {
				case ev := <-a.records:
					a.record(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *App) record(ev domain.PriceUpdateEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := a.snapshot.Record(ctx, ev); err != nil {
		a.log.Warn().Err(err).Int64("product_id", ev.ProductID).Msg("⚠️ failed to record update")
	}
}

func (a *App) onStateChange(state domain.ConnectionState) {
	if state == domain.Disconnected && a.client.Exhausted() {
		a.log.Warn().Msg("⛔ price stream gave up, send SIGHUP to reconnect")

		return
	}

	a.log.Debug().Str("state", string(state)).Msg("connection state")
}

type seedSource struct {
	name string
	src  pricesSource
}

// warmStart seeds the client from the catalog and then from the Redis
// snapshot, so catalog prices win where both know a product
func (a *App) warmStart(ctx context.Context) {
	var sources []seedSource
	if a.catalog != nil {
		sources = append(sources, seedSource{"catalog", a.catalog})
	}

	if a.snapshot != nil {
		sources = append(sources, seedSource{"redis", a.snapshot})
	}

	for _, s := range sources {
		prices, err := s.src.Prices(ctx)
		if err != nil {
			a.log.Warn().Err(err).Str("source", s.name).Msg("⚠️ warm start failed")

			continue
		}

		added := a.client.Seed(prices)
		a.log.Info().Str("source", s.name).Int("seeded", added).Msg("✅ warm start")
	}
}

// Run connects and blocks until ctx is done. Every value received on retry
// triggers a manual reconnect.
func (a *App) Run(ctx context.Context, retry <-chan os.Signal) {
	stop := make(chan struct{})
	recorded := make(chan struct{})

	if a.records != nil {
		go func() {
			defer close(recorded)

			a.recordLoop(stop)
		}()
	} else {
		close(recorded)
	}

	a.warmStart(ctx)
	a.client.Connect()

	for {
		select {
		case <-retry:
			a.log.Info().Str("state", string(a.client.State())).Msg("🔄 manual reconnect requested")
			a.client.Connect()
		case <-ctx.Done():
			a.log.Info().Msg("⛔ shutting down")
			a.client.Disconnect()
			close(stop)
			<-recorded

			for _, c := range a.closers {
				c()
			}

			return
		}
	}
}
