package cache

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neon-proxy/neon-proxy/pkg/mempool"
)

func withFixedClock(t *testing.T, sec int64) func(delta int64) {
	orig := nowSec
	cur := sec
	nowSec = func() int64 { return cur }
	t.Cleanup(func() { nowSec = orig })
	return func(delta int64) { cur += delta }
}

func newTestClient(t *testing.T, handler mempool.Handler, kind mempool.Kind) *mempool.Client {
	srv := mempool.NewServer(nil)
	srv.Handle(kind, handler)
	client := mempool.NewClient(srv)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	return client
}

func TestGasPriceCache_RefreshesOncePerSecond(t *testing.T) {
	advance := withFixedClock(t, 1000)

	var calls int32
	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return mempool.GasPriceResult{Suggested: big.NewInt(100), Min: big.NewInt(10)}, nil
	}, mempool.KindGetGasPrice)

	c := NewGasPriceCache(client, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "second call within the same second must not refresh")

	advance(1)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "call in a new second must refresh")
}

func TestGasPriceCache_ServesStaleValueOnRefreshFailure(t *testing.T) {
	advance := withFixedClock(t, 2000)

	fail := false
	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		if fail {
			return nil, errors.New("mempool unavailable")
		}
		return mempool.GasPriceResult{Min: big.NewInt(5)}, nil
	}, mempool.KindGetGasPrice)

	c := NewGasPriceCache(client, nil)
	result, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.Min.Int64())

	advance(1)
	fail = true
	result, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.Min.Int64(), "must keep serving the last known value")
}

func TestGasPriceCache_FailsWhenNoValueEverObtained(t *testing.T) {
	withFixedClock(t, 3000)

	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return nil, errors.New("mempool unavailable")
	}, mempool.KindGetGasPrice)

	c := NewGasPriceCache(client, nil)
	_, err := c.Get(context.Background())
	assert.Error(t, err)
}

func TestParamCache_MethodAllowed_AlwaysAllowedServedRegardlessOfVersion(t *testing.T) {
	withFixedClock(t, 4000)

	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return map[string]string{"NEON_EVM_VERSION": "9.9.9"}, nil
	}, mempool.KindGetElfParamDict)

	c := NewParamCache(client, "1.0.0", nil, nil)
	allowed, err := c.MethodAllowed(context.Background(), "eth_getBalance")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestParamCache_MethodAllowed_GatesOnVersionCompatibility(t *testing.T) {
	withFixedClock(t, 5000)

	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return map[string]string{"NEON_EVM_VERSION": "2.5.1"}, nil
	}, mempool.KindGetElfParamDict)

	compatible := NewParamCache(client, "2.5.0", nil, nil)
	allowed, err := compatible.MethodAllowed(context.Background(), "eth_sendRawTransaction")
	require.NoError(t, err)
	assert.True(t, allowed, "major.minor match should be treated as compatible")

	incompatible := NewParamCache(client, "3.0.0", nil, nil)
	allowed, err = incompatible.MethodAllowed(context.Background(), "eth_sendRawTransaction")
	require.NoError(t, err)
	assert.False(t, allowed, "major.minor mismatch should gate non-read methods")
}

func TestParamCache_MaxEVMStepCount_ParsesValue(t *testing.T) {
	withFixedClock(t, 6000)

	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return map[string]string{"NEON_EVM_STEPS_MAX": "500"}, nil
	}, mempool.KindGetElfParamDict)

	c := NewParamCache(client, "1.0.0", nil, nil)
	steps, err := c.MaxEVMStepCount(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 500, steps)
}

func TestParamCache_NeonEVMVersion_MissingKeyErrors(t *testing.T) {
	withFixedClock(t, 7000)

	client := newTestClient(t, func(ctx context.Context, req mempool.Request) (interface{}, error) {
		return map[string]string{}, nil
	}, mempool.KindGetElfParamDict)

	c := NewParamCache(client, "1.0.0", nil, nil)
	_, err := c.NeonEVMVersion(context.Background())
	assert.Error(t, err)
}
