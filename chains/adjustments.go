// Package chains provides the on-chain price adjustment transport
package chains

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sljivkov/pricestream/domain"
	"github.com/sljivkov/pricestream/logger"
)

//go:embed abi/price_adjuster.abi
var adjusterABI string

const adjustedEvent = "PriceAdjusted"

// on-chain prices are stored in cents
const priceExp = -2

var ErrSubscriptionClosed = errors.New("log subscription closed")

// LogSubscriber is the part of ethclient.Client the feed needs
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// adjustment mirrors the non-indexed PriceAdjusted event fields
type adjustment struct {
	ProductId   *big.Int //nolint:revive
	NewPrice    *big.Int
	PriceChange *big.Int
	ChangedAt   *big.Int
	ProductName string
}

// AdjustmentFeed streams PriceAdjusted logs of one contract as price update payloads
type AdjustmentFeed struct {
	client          LogSubscriber
	parsedABI       abi.ABI
	contractAddress common.Address
	log             zerolog.Logger
}

// NewAdjustmentFeed creates an AdjustmentFeed for the contract at contractAddress
func NewAdjustmentFeed(client LogSubscriber, contractAddress string) (*AdjustmentFeed, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(adjusterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse adjuster ABI: %w", err)
	}

	return &AdjustmentFeed{
		client:          client,
		parsedABI:       parsedABI,
		contractAddress: common.HexToAddress(contractAddress),
		log:             logger.With("chain"),
	}, nil
}

// Open subscribes to the contract logs in the background
func (f *AdjustmentFeed) Open(ctx context.Context, sink domain.StreamSink) {
	go func() {
		err := f.listen(ctx, sink)
		if ctx.Err() != nil {
			return
		}

		sink.OnError(err)
	}()
}

func (f *AdjustmentFeed) listen(ctx context.Context, sink domain.StreamSink) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{f.contractAddress},
		Topics:    [][]common.Hash{{f.parsedABI.Events[adjustedEvent].ID}},
	}

	logs := make(chan types.Log)

	sub, err := f.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s logs: %w", adjustedEvent, err)
	}

	defer sub.Unsubscribe()

	f.log.Info().Str("contract", f.contractAddress.Hex()).Msg("📡 Listening for PriceAdjusted events...")

	for {
		select {
		case err := <-sub.Err():
			if err == nil {
				return ErrSubscriptionClosed
			}

			return fmt.Errorf("log subscription failed: %w", err)
		case lg := <-logs:
			if lg.Removed {
				f.log.Debug().Str("tx", lg.TxHash.Hex()).Msg("skipping removed log")

				continue
			}

			payload, err := f.decode(lg)
			if err != nil {
				f.log.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("⚠️ dropping undecodable log")

				continue
			}

			sink.OnMessage(payload)
		case <-ctx.Done():
			f.log.Debug().Msg("🛑 Context cancelled, stopping listener")

			return ctx.Err()
		}
	}
}

// decode turns a PriceAdjusted log into the JSON payload the event stream carries
func (f *AdjustmentFeed) decode(lg types.Log) ([]byte, error) {
	var out adjustment
	if err := f.parsedABI.UnpackIntoInterface(&out, adjustedEvent, lg.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", adjustedEvent, err)
	}

	if out.ProductId == nil || !out.ProductId.IsInt64() {
		return nil, fmt.Errorf("product id out of range: %v", out.ProductId)
	}

	if out.ChangedAt == nil || !out.ChangedAt.IsInt64() {
		return nil, fmt.Errorf("changed at out of range: %v", out.ChangedAt)
	}

	change := decimal.NewFromBigInt(out.PriceChange, priceExp)

	ev := domain.PriceUpdateEvent{
		ProductID:   out.ProductId.Int64(),
		NewPrice:    decimal.NewFromBigInt(out.NewPrice, priceExp),
		PriceChange: change,
		ChangeType:  domain.ChangeTypeFor(change),
		ChangedAt:   time.Unix(out.ChangedAt.Int64(), 0).UTC(),
		ProductName: out.ProductName,
	}

	return json.Marshal(ev)
}
