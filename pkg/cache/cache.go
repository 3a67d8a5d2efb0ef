// Package cache implements the gas-price and EVM-param short-TTL caches
// (§4.8): both are keyed by wall-clock second, refresh themselves from a
// mempool RPC at most once per second, and keep serving their last known
// value on a refresh failure rather than failing the caller outright.
package cache

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neon-proxy/neon-proxy/pkg/mempool"
)

// nowSec is overridable in tests; production code always calls
// time.Now().Unix().
var nowSec = func() int64 { return time.Now().Unix() }

// GasPriceCache serves suggested/minimum gas prices, refreshing from the
// mempool at most once per wall-clock second.
type GasPriceCache struct {
	mu            sync.Mutex
	client        *mempool.Client
	logger        *log.Logger
	lastUpdateSec int64
	value         mempool.GasPriceResult
	haveValue     bool
}

// NewGasPriceCache constructs a cache bound to a mempool client.
func NewGasPriceCache(client *mempool.Client, logger *log.Logger) *GasPriceCache {
	if logger == nil {
		logger = log.New(log.Writer(), "[GasPriceCache] ", log.LstdFlags)
	}
	return &GasPriceCache{client: client, logger: logger}
}

// Get returns the current suggested/minimum gas price, refreshing first
// if the cache is stale for the current second (§4.8).
func (c *GasPriceCache) Get(ctx context.Context) (mempool.GasPriceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := nowSec()
	if c.lastUpdateSec == now && c.haveValue {
		return c.value, nil
	}

	result, err := c.client.GetGasPrice(ctx)
	if err != nil {
		if c.haveValue {
			c.logger.Printf("gas price refresh failed, serving stale value: %v", err)
			return c.value, nil
		}
		return mempool.GasPriceResult{}, fmt.Errorf("cache: gas price: no value ever obtained: %w", err)
	}

	c.value = result
	c.lastUpdateSec = now
	c.haveValue = true
	return c.value, nil
}

// MinGasPrice is a convenience accessor over Get for callers (e.g.
// pkg/validator) that only need the price floor.
func (c *GasPriceCache) MinGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	return result.Min, nil
}

// versionPolicy decides whether a proxy build is compatible with a
// reported EVM program version, per §4.8's "major.minor equality"
// default. Declared as a func value (rather than a hardcoded compare) so
// a deployment can configure a looser or stricter policy without
// touching ParamCache itself.
type versionPolicy func(proxyVersion, evmVersion string) bool

// MajorMinorEqual is the default versionPolicy: the proxy and EVM
// program are compatible if their major.minor components match exactly,
// ignoring patch.
func MajorMinorEqual(proxyVersion, evmVersion string) bool {
	return majorMinor(proxyVersion) == majorMinor(evmVersion)
}

func majorMinor(version string) string {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}

// alwaysAllowedMethods lists the read-only JSON-RPC methods served as
// soon as EVM params are known at all, regardless of version
// compatibility (§4.8).
var alwaysAllowedMethods = map[string]bool{
	"eth_chainId":              true,
	"eth_blockNumber":          true,
	"eth_getBlockByNumber":     true,
	"eth_getBlockByHash":       true,
	"eth_getTransactionByHash": true,
	"eth_getTransactionReceipt": true,
	"eth_getTransactionCount":  true,
	"eth_getBalance":           true,
	"eth_gasPrice":             true,
	"net_version":              true,
	"web3_clientVersion":       true,
}

// ParamCache serves the dynamic EVM-param dictionary (§4.8), gating
// non-read-only method visibility on proxy/EVM version compatibility.
type ParamCache struct {
	mu            sync.Mutex
	client        *mempool.Client
	logger        *log.Logger
	proxyVersion  string
	policy        versionPolicy
	lastUpdateSec int64
	params        map[string]string
	haveValue     bool
}

// NewParamCache constructs a cache bound to a mempool client, the
// proxy's own version string, and a compatibility policy (nil defaults
// to MajorMinorEqual).
func NewParamCache(client *mempool.Client, proxyVersion string, policy versionPolicy, logger *log.Logger) *ParamCache {
	if policy == nil {
		policy = MajorMinorEqual
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ParamCache] ", log.LstdFlags)
	}
	return &ParamCache{client: client, proxyVersion: proxyVersion, policy: policy, logger: logger}
}

// refresh pulls the param dict from the mempool if stale for the current
// second, keeping the previous value on failure.
func (c *ParamCache) refresh(ctx context.Context) error {
	now := nowSec()
	if c.lastUpdateSec == now && c.haveValue {
		return nil
	}

	dict, err := c.client.GetElfParamDict(ctx)
	if err != nil {
		if c.haveValue {
			c.logger.Printf("param refresh failed, serving stale value: %v", err)
			return nil
		}
		return fmt.Errorf("cache: evm params: no value ever obtained: %w", err)
	}

	c.params = dict
	c.lastUpdateSec = now
	c.haveValue = true
	return nil
}

// Param returns one raw param value by key.
func (c *ParamCache) Param(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refresh(ctx); err != nil {
		return "", false, err
	}
	v, ok := c.params[key]
	return v, ok, nil
}

// NeonEVMVersion returns the EVM program's reported version string.
func (c *ParamCache) NeonEVMVersion(ctx context.Context) (string, error) {
	v, ok, err := c.Param(ctx, "NEON_EVM_VERSION")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("cache: evm params: NEON_EVM_VERSION not present")
	}
	return v, nil
}

// MaxEVMStepCount returns the EVM program's configured per-instruction
// step budget, used by the strategy ladder's iteration planning.
func (c *ParamCache) MaxEVMStepCount(ctx context.Context) (uint32, error) {
	v, ok, err := c.Param(ctx, "NEON_EVM_STEPS_MAX")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("cache: evm params: NEON_EVM_STEPS_MAX not present")
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("cache: evm params: parse NEON_EVM_STEPS_MAX: %w", err)
	}
	return uint32(n), nil
}

// Dict returns a copy of the full raw EVM-param dictionary (neon_getEvmParams).
func (c *ParamCache) Dict(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out, nil
}

// MethodAllowed reports whether the given JSON-RPC method may be served
// right now (§4.8): always-allowed read methods pass as soon as params
// are known at all; every other method additionally needs version
// compatibility.
func (c *ParamCache) MethodAllowed(ctx context.Context, method string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refresh(ctx); err != nil {
		return false, err
	}
	if !c.haveValue {
		return false, nil
	}
	if alwaysAllowedMethods[method] {
		return true, nil
	}

	evmVersion, ok := c.params["NEON_EVM_VERSION"]
	if !ok {
		return false, nil
	}
	return c.policy(c.proxyVersion, evmVersion), nil
}
