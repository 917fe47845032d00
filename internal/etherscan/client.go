package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable marks a recoverable upstream failure. Callers log it and
// skip the current cycle; they never treat it as fatal.
var ErrUnavailable = errors.New("chain data unavailable")

// Client is a rate-limited Etherscan HTTP client. It carries no retry
// policy; a failed read simply defers to the caller's next cycle.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new Etherscan client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		minDelay: 200 * time.Millisecond, // 5 RPS free-tier ceiling
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) request(ctx context.Context, params url.Values) (json.RawMessage, error) {
	c.throttle()

	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrUnavailable, err)
	}

	if env.Status != "1" {
		// "No transactions found" is an empty result, not an outage.
		if strings.HasPrefix(env.Message, "No transactions") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, env.Message)
	}

	return env.Result, nil
}

// GetBalance returns the wei balance of an address.
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	}

	result, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}

	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal balance: %v", ErrUnavailable, err)
	}

	wei, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed balance %q", ErrUnavailable, raw)
	}
	return wei, nil
}

// GetTransactions returns normal transactions for an address, newest first.
func (c *Client) GetTransactions(ctx context.Context, address string, page, offset int) ([]Transaction, error) {
	params := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {strconv.Itoa(page)},
		"offset":     {strconv.Itoa(offset)},
		"sort":       {"desc"},
	}

	result, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	var txs []Transaction
	if err := json.Unmarshal(result, &txs); err != nil {
		return nil, fmt.Errorf("%w: unmarshal transactions: %v", ErrUnavailable, err)
	}
	return txs, nil
}

// GetGasPrice returns the oracle's safe gas price in wei.
func (c *Client) GetGasPrice(ctx context.Context) (*big.Int, error) {
	params := url.Values{
		"module": {"gastracker"},
		"action": {"gasoracle"},
	}

	result, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}

	var oracle GasOracle
	if err := json.Unmarshal(result, &oracle); err != nil {
		return nil, fmt.Errorf("%w: unmarshal gas oracle: %v", ErrUnavailable, err)
	}

	gwei, err := decimal.NewFromString(oracle.SafeGasPrice)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed gas price %q", ErrUnavailable, oracle.SafeGasPrice)
	}
	return gwei.Shift(9).BigInt(), nil
}

// GetBlockNumberByTimestamp returns the closest block before or after ts.
func (c *Client) GetBlockNumberByTimestamp(ctx context.Context, ts int64, closest string) (int64, error) {
	if closest == "" {
		closest = "before"
	}
	params := url.Values{
		"module":    {"block"},
		"action":    {"getblocknobytime"},
		"timestamp": {strconv.FormatInt(ts, 10)},
		"closest":   {closest},
	}

	result, err := c.request(ctx, params)
	if err != nil {
		return 0, err
	}

	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, fmt.Errorf("%w: unmarshal block number: %v", ErrUnavailable, err)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed block number %q", ErrUnavailable, raw)
	}
	return n, nil
}

// GetETHPrice returns the current ETH price in USD.
func (c *Client) GetETHPrice(ctx context.Context) (float64, error) {
	params := url.Values{
		"module": {"stats"},
		"action": {"ethprice"},
	}

	result, err := c.request(ctx, params)
	if err != nil {
		return 0, err
	}

	var price ETHPrice
	if err := json.Unmarshal(result, &price); err != nil {
		return 0, fmt.Errorf("%w: unmarshal price: %v", ErrUnavailable, err)
	}

	usd, err := strconv.ParseFloat(price.ETHUSD, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed price %q", ErrUnavailable, price.ETHUSD)
	}
	return usd, nil
}
