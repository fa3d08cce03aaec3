package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 64 * 1024
	DefaultKVMaxEntries   = 10000
)

// KVConfig bounds the size of a KV store.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

// KVOption adjusts a KVConfig.
type KVOption func(*KVConfig)

func WithMaxKeySize(n int) KVOption {
	return func(c *KVConfig) { c.MaxKeySize = n }
}

func WithMaxValueSize(n int) KVOption {
	return func(c *KVConfig) { c.MaxValueSize = n }
}

func WithMaxEntries(n int) KVOption {
	return func(c *KVConfig) { c.MaxEntries = n }
}

// KV is an in-memory key-value store exposed as kv_* functions.
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig, opts ...KVOption) *KV {
	for _, opt := range opts {
		opt(&cfg)
	}
	return &KV{cfg: cfg, data: make(map[string]any)}
}

func (kv *KV) key(args map[string]any) (string, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return "", errors.New("key required")
	}
	if kv.cfg.MaxKeySize > 0 && len(key) > kv.cfg.MaxKeySize {
		return "", fmt.Errorf("key exceeds max size of %d bytes", kv.cfg.MaxKeySize)
	}
	return key, nil
}

// Get returns the stored value, the "default" argument, or nil.
func (kv *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, err := kv.key(args)
	if err != nil {
		return nil, err
	}

	kv.mu.RLock()
	val, exists := kv.data[key]
	kv.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

func (kv *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, err := kv.key(args)
	if err != nil {
		return nil, err
	}
	val, ok := args["value"]
	if !ok || val == nil {
		return nil, errors.New("value required")
	}
	if s, ok := val.(string); ok && kv.cfg.MaxValueSize > 0 && len(s) > kv.cfg.MaxValueSize {
		return nil, fmt.Errorf("value exceeds max size of %d bytes", kv.cfg.MaxValueSize)
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	if _, exists := kv.data[key]; !exists && kv.cfg.MaxEntries > 0 && len(kv.data) >= kv.cfg.MaxEntries {
		return nil, fmt.Errorf("store full: %d entries", kv.cfg.MaxEntries)
	}
	kv.data[key] = val
	return "ok", nil
}

func (kv *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, err := kv.key(args)
	if err != nil {
		return nil, err
	}

	kv.mu.Lock()
	delete(kv.data, key)
	kv.mu.Unlock()

	return "ok", nil
}

// Keys returns all keys in sorted order.
func (kv *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	kv.mu.RLock()
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	kv.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Specs returns the kv_* function table.
func (kv *KV) Specs() []Spec {
	return []Spec{
		{Name: "kv_get", Params: []string{"key", "default"}, Fn: kv.Get},
		{Name: "kv_set", Params: []string{"key", "value"}, Fn: kv.Set},
		{Name: "kv_delete", Params: []string{"key"}, Fn: kv.Delete},
		{Name: "kv_keys", Fn: kv.Keys},
	}
}
