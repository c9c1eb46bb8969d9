package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain price feed reader.
// Feeds maps a coin id to its USD aggregator contract address.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
	MaxAge  time.Duration
}

// Chainlink reads USD prices from Chainlink aggregator contracts. It backs up
// the primary crypto spot source.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	now       func() time.Time
}

// NewChainlink builds a new on-chain feed reader.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	feeds := make(map[string]string, len(opts.Feeds))
	for id, addr := range opts.Feeds {
		feeds[strings.ToLower(id)] = addr
	}
	opts.Feeds = feeds
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger(), now: time.Now}
}

// FetchSpotUSD reads every requested id that has a configured feed. Per-feed
// failures are logged and the id omitted.
func (c *Chainlink) FetchSpotUSD(ctx context.Context, ids []string) (map[string]float64, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	out := make(map[string]float64)
	var client *ethclient.Client
	for _, id := range ids {
		id = strings.ToLower(id)
		addrHex, ok := c.opts.Feeds[id]
		if !ok || !common.IsHexAddress(addrHex) {
			continue
		}
		if client == nil {
			var err error
			client, err = c.getClient(ctx)
			if err != nil {
				return nil, err
			}
		}
		price, err := c.readFeed(ctx, client, common.HexToAddress(addrHex))
		if err != nil {
			c.logger.Debug().Err(err).Str("id", id).Msg("feed read failed")
			continue
		}
		out[id] = price
	}
	return out, nil
}

func (c *Chainlink) readFeed(ctx context.Context, client *ethclient.Client, addr common.Address) (float64, error) {
	decOut, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	roundOut, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return 0, err
	}
	if len(roundOut) != 5 {
		return 0, errors.New("unexpected latestRoundData response")
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return 0, fmt.Errorf("invalid answer %v", roundOut[1])
	}
	updatedAt, ok := roundOut[3].(*big.Int)
	if ok && c.opts.MaxAge > 0 {
		age := c.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > c.opts.MaxAge {
			return 0, fmt.Errorf("stale round: updated %s ago", age.Truncate(time.Second))
		}
	}

	return decimal.NewFromBigInt(answer, -int32(decimals)).InexactFloat64(), nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := aggregatorV3ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return outputs, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ CryptoSource = (*Chainlink)(nil)
