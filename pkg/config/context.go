package config

import (
	"context"
	"sync"
)

type contextKey struct{}

var (
	defaultConfig     *Config
	defaultConfigOnce sync.Once
)

// ContextWithConfig stores the configuration in the context.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext returns the configuration attached to the context. If none is
// found it falls back to a lazily-initialized default so components have a
// usable configuration when the caller did not attach one explicitly.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(contextKey{}).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	defaultConfigOnce.Do(func() {
		defaultConfig = Default()
	})
	return defaultConfig
}
