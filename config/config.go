// Package config supplies a small typed settings map used to override the
// allocator's compile-time defaults (arena size, shard count, cache caps)
// for tests and for host programs embedding tcalloc under constrained
// environments (CI containers with a handful of CPUs, sandboxed tests that
// cannot afford a full 1 GB reservation).
package config

import (
	"fmt"
	"strings"

	"github.com/cloudfoundry/gosigar"
)

// Config is a flat map of named settings, mirroring the sized-map
// convention used across the allocator's ambient stack: string keys,
// typed accessors, and section-scoped composition.
type Config map[string]interface{}

// Section returns the subset of config whose keys start with prefix.
func (c Config) Section(prefix string) Config {
	out := make(Config)
	for k, v := range c {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Trim strips prefix from every key that carries it.
func (c Config) Trim(prefix string) Config {
	out := make(Config)
	for k, v := range c {
		out[strings.TrimPrefix(k, prefix)] = v
	}
	return out
}

// Filter returns the subset of config whose keys contain subs anywhere,
// not just as a prefix — useful for pulling every setting that touches a
// concern spread across sections (e.g. "cap" matches both
// "globalcache.cap" and "reusecache.cap").
func (c Config) Filter(subs string) Config {
	out := make(Config)
	for k, v := range c {
		if strings.Contains(k, subs) {
			out[k] = v
		}
	}
	return out
}

// Mixin overrides c's keys with those found in settings, returning c.
func (c Config) Mixin(settings ...interface{}) Config {
	apply := func(m map[string]interface{}) {
		for k, v := range m {
			c[k] = v
		}
	}
	for _, s := range settings {
		switch v := s.(type) {
		case Config:
			apply(v)
		case map[string]interface{}:
			apply(v)
		}
	}
	return c
}

func (c Config) Int64(key string) int64 {
	v, ok := c[key]
	if !ok {
		panic(fmt.Errorf("config: missing key %q", key))
	}
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	}
	panic(fmt.Errorf("config: %q is not a number: %T", key, v))
}

func (c Config) Uint64(key string) uint64 {
	v, ok := c[key]
	if !ok {
		panic(fmt.Errorf("config: missing key %q", key))
	}
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		return uint64(x)
	case int:
		return uint64(x)
	case int32:
		return uint64(x)
	case float64:
		return uint64(x)
	}
	panic(fmt.Errorf("config: %q is not a number: %T", key, v))
}

func (c Config) Bool(key string) bool {
	v, ok := c[key]
	if !ok {
		panic(fmt.Errorf("config: missing key %q", key))
	}
	b, ok := v.(bool)
	if !ok {
		panic(fmt.Errorf("config: %q is not a bool: %T", key, v))
	}
	return b
}

func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok {
		panic(fmt.Errorf("config: missing key %q", key))
	}
	s, ok := v.(string)
	if !ok {
		panic(fmt.Errorf("config: %q is not a string: %T", key, v))
	}
	return s
}

// Mixinconfig builds a fresh Config by layering configs in order, later
// entries overriding earlier ones on key collision. Unlike Mixin, which
// mutates its receiver, this always starts from an empty map — the way a
// host program composes Default() with its own overrides without
// mutating either input.
func Mixinconfig(configs ...interface{}) Config {
	out := make(Config)
	out.Mixin(configs...)
	return out
}

// Default returns the allocator's built-in defaults. arenaBytes falls
// back to a fraction of total system RAM (via gosigar) when the caller
// does not override it, so tests running on small CI hosts do not try to
// reserve more virtual address space than convenient.
func Default() Config {
	arenaBytes := int64(1 << 30) // 1 GB, per spec.
	mem := sigar.Mem{}
	mem.Get()
	if mem.Total > 0 {
		if quarter := int64(mem.Total / 4); quarter < arenaBytes {
			arenaBytes = quarter
		}
	}
	return Config{
		"arena.bytes":          arenaBytes,
		"shard.count":          int64(8),
		"globalcache.cap":      int64(64),
		"reusecache.cap":       int64(4),
		"reentry.buddyfallback": true,
	}
}
