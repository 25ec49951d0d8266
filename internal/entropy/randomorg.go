// True randomness via random.org for combat-critical draws, with a local
// pool so one API round trip covers many rolls. Falls back to crypto/rand
// when the service is unreachable, and backs off rather than hammering a
// failing endpoint.
package entropy

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	randomOrgURL = "https://api.random.org/json-rpc/4/invoke"
	poolBatch    = 256             // draws fetched per round trip
	poolLowWater = 16              // refill threshold
	fetchBackoff = 5 * time.Minute // pause after a failed fetch
)

// Client pools decimal fractions from random.org. It implements Source;
// a nil *Client is valid and always uses crypto/rand.
type Client struct {
	key string
	url string
	hc  *http.Client

	mu      sync.Mutex
	pool    []float64
	retryAt time.Time
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		key: apiKey,
		url: randomOrgURL,
		hc:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Float returns a draw in [0, 1). The pool refills below the low-water
// mark; crypto/rand covers the gap while the API is down or backing off.
func (c *Client) Float() float64 {
	if c == nil {
		return cryptoRandFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) <= poolLowWater && time.Now().After(c.retryAt) {
		if err := c.refillLocked(); err != nil {
			c.retryAt = time.Now().Add(fetchBackoff)
			slog.Warn("random.org fetch failed, backing off", "error", err, "backoff", fetchBackoff)
		}
	}

	if len(c.pool) == 0 {
		return cryptoRandFloat()
	}
	v := c.pool[len(c.pool)-1]
	c.pool = c.pool[:len(c.pool)-1]
	return v
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int       `json:"id"`
}

type rpcParams struct {
	APIKey        string `json:"apiKey"`
	N             int    `json:"n"`
	DecimalPlaces int    `json:"decimalPlaces"`
	Replacement   bool   `json:"replacement"`
}

type rpcResponse struct {
	Result *struct {
		Random struct {
			Data []float64 `json:"data"`
		} `json:"random"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) refillLocked() error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "generateDecimalFractions",
		Params: rpcParams{
			APIKey:        c.key,
			N:             poolBatch,
			DecimalPlaces: 8,
			Replacement:   true,
		},
		ID: 1,
	})
	if err != nil {
		return err
	}

	resp, err := c.hc.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}
	if parsed.Error != nil {
		return &apiError{code: parsed.Error.Code, message: parsed.Error.Message}
	}
	if parsed.Result == nil {
		return &apiError{message: "empty result"}
	}

	c.pool = append(c.pool, parsed.Result.Random.Data...)
	slog.Debug("entropy pool refilled", "size", len(c.pool))
	return nil
}

type apiError struct {
	code    int
	message string
}

func (e *apiError) Error() string {
	return "random.org: " + e.message
}

// Enabled reports whether the client will actually call random.org.
func (c *Client) Enabled() bool {
	return c != nil && c.key != ""
}

// FromClient returns the client as a Source if enabled, or a CryptoSource.
func FromClient(c *Client) Source {
	if c.Enabled() {
		return c
	}
	return CryptoSource{}
}
