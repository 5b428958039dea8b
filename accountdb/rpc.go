package accountdb

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/vyperlang/boa/types"
)

// StorageEntry is one slot returned by a prestateTracer account entry.
type StorageEntry struct {
	Slot  types.Hash
	Value types.Hash
}

// PrestateAccount is the per-account payload of a debug_traceCall
// prestateTracer response: any field may be absent (nil) if the node
// didn't report it.
type PrestateAccount struct {
	Address types.Address
	Balance *big.Int
	Nonce   *uint64
	Code    []byte
	Storage []StorageEntry
}

// RPCClient is the upstream node surface AccountDB forks against. It's
// implemented in terms of github.com/ethereum/go-ethereum/rpc.Client by
// the caller that constructs an AccountDB (see NewFork); AccountDB itself
// only depends on this interface so it can be tested against a fake.
type RPCClient interface {
	GetBalance(ctx context.Context, addr types.Address, block string) (*big.Int, error)
	GetTransactionCount(ctx context.Context, addr types.Address, block string) (uint64, error)
	GetCode(ctx context.Context, addr types.Address, block string) ([]byte, error)
	GetStorageAt(ctx context.Context, addr types.Address, slot types.Hash, block string) (types.Hash, error)
	BlockNumber(ctx context.Context) (uint64, error)

	// TracePrestate runs debug_traceCall with the prestateTracer against
	// the given call message at block, returning the touched accounts'
	// pre-call state. Implementations that can't support tracing (e.g. a
	// light client) may return ErrPrestateUnsupported.
	TracePrestate(ctx context.Context, from, to types.Address, data []byte, value *big.Int, block string) ([]PrestateAccount, error)
}

// clientCaches holds one fastcache.Cache per distinct underlying
// RPCClient, so every Fork wrapping the *same* client (the normal case: a
// process talking to one upstream node, forked into several independent
// Envs) shares one cache — spec §5's "Forked account DBs share a
// process-wide RPC cache keyed by (method, params)" — while two Forks
// constructed against two different client instances (as in this
// package's own tests, one fake client per test) never see each other's
// cached answers. RPCClient implementations are expected to be backed by
// a pointer (the real implementation wraps *rpc.Client), so interface
// equality here is pointer identity, not a deep comparison.
var clientCaches sync.Map // RPCClient -> *fastcache.Cache

func cacheFor(client RPCClient) *fastcache.Cache {
	if c, ok := clientCaches.Load(client); ok {
		return c.(*fastcache.Cache)
	}
	c, _ := clientCaches.LoadOrStore(client, fastcache.New(32*1024*1024))
	return c.(*fastcache.Cache)
}

// cachingRPCClient wraps an RPCClient with its shared cache (see
// clientCaches), keying each entry on the method name and its encoded
// parameters. Block-scoped calls (everything but BlockNumber, which by
// definition must always hit the live node) are cacheable because a
// Fork's block identifier is pinned for its whole lifetime — the same
// (method, params, block) tuple always yields the same upstream answer.
type cachingRPCClient struct {
	RPCClient
	cache *fastcache.Cache
}

// WrapCachingRPCClient decorates client with its shared process-wide RPC
// cache. NewFork calls this automatically; exported so callers that want
// to share a single underlying client across multiple explicitly-
// constructed Forks can opt in without going through NewFork.
func WrapCachingRPCClient(client RPCClient) RPCClient {
	if _, already := client.(*cachingRPCClient); already {
		return client
	}
	return &cachingRPCClient{RPCClient: client, cache: cacheFor(client)}
}

func cacheKey(method string, parts ...[]byte) []byte {
	key := []byte(method)
	for _, p := range parts {
		key = append(key, ':')
		key = append(key, p...)
	}
	return key
}

func encodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (c *cachingRPCClient) GetBalance(ctx context.Context, addr types.Address, block string) (*big.Int, error) {
	key := cacheKey("eth_getBalance", addr.Bytes(), []byte(block))
	if buf, ok := c.cache.HasGet(nil, key); ok {
		rpcCacheHits.WithLabelValues("eth_getBalance").Inc()
		return new(big.Int).SetBytes(buf), nil
	}
	rpcCacheMisses.WithLabelValues("eth_getBalance").Inc()
	balance, err := c.RPCClient.GetBalance(ctx, addr, block)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, balance.Bytes())
	return balance, nil
}

func (c *cachingRPCClient) GetTransactionCount(ctx context.Context, addr types.Address, block string) (uint64, error) {
	key := cacheKey("eth_getTransactionCount", addr.Bytes(), []byte(block))
	if buf, ok := c.cache.HasGet(nil, key); ok && len(buf) == 8 {
		rpcCacheHits.WithLabelValues("eth_getTransactionCount").Inc()
		return binary.BigEndian.Uint64(buf), nil
	}
	rpcCacheMisses.WithLabelValues("eth_getTransactionCount").Inc()
	nonce, err := c.RPCClient.GetTransactionCount(ctx, addr, block)
	if err != nil {
		return 0, err
	}
	c.cache.Set(key, encodeUint64(nonce))
	return nonce, nil
}

func (c *cachingRPCClient) GetCode(ctx context.Context, addr types.Address, block string) ([]byte, error) {
	key := cacheKey("eth_getCode", addr.Bytes(), []byte(block))
	if buf, ok := c.cache.HasGet(nil, key); ok {
		rpcCacheHits.WithLabelValues("eth_getCode").Inc()
		return append([]byte(nil), buf...), nil
	}
	rpcCacheMisses.WithLabelValues("eth_getCode").Inc()
	code, err := c.RPCClient.GetCode(ctx, addr, block)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, code)
	return code, nil
}

func (c *cachingRPCClient) GetStorageAt(ctx context.Context, addr types.Address, slot types.Hash, block string) (types.Hash, error) {
	key := cacheKey("eth_getStorageAt", addr.Bytes(), slot.Bytes(), []byte(block))
	if buf, ok := c.cache.HasGet(nil, key); ok && len(buf) == 32 {
		rpcCacheHits.WithLabelValues("eth_getStorageAt").Inc()
		var h types.Hash
		copy(h[:], buf)
		return h, nil
	}
	rpcCacheMisses.WithLabelValues("eth_getStorageAt").Inc()
	val, err := c.RPCClient.GetStorageAt(ctx, addr, slot, block)
	if err != nil {
		return types.Hash{}, err
	}
	c.cache.Set(key, val.Bytes())
	return val, nil
}
