package config

import "testing"

func TestSectionAndTrim(t *testing.T) {
	c := Config{"arena.bytes": int64(1024), "shard.count": int64(8), "other": "x"}
	section := c.Section("arena.")
	if len(section) != 1 {
		t.Fatalf("expected 1 key, got %d", len(section))
	}
	trimmed := section.Trim("arena.")
	if trimmed.Int64("bytes") != 1024 {
		t.Fatalf("expected 1024, got %d", trimmed.Int64("bytes"))
	}
}

func TestMixin(t *testing.T) {
	c := Default()
	orig := c.Int64("arena.bytes")
	c.Mixin(Config{"arena.bytes": int64(4096)})
	if c.Int64("arena.bytes") != 4096 {
		t.Fatalf("mixin did not override, still %d (was %d)", c.Int64("arena.bytes"), orig)
	}
}

func TestFilter(t *testing.T) {
	c := Config{"globalcache.cap": int64(64), "reusecache.cap": int64(4), "arena.bytes": int64(1024)}
	got := c.Filter("cap")
	if len(got) != 2 {
		t.Fatalf("expected 2 keys containing %q, got %d", "cap", len(got))
	}
}

func TestUint64(t *testing.T) {
	c := Config{"shard.count": int64(8)}
	if c.Uint64("shard.count") != 8 {
		t.Fatalf("expected 8, got %d", c.Uint64("shard.count"))
	}
}

func TestMixinconfig(t *testing.T) {
	base := Default()
	merged := Mixinconfig(base, Config{"arena.bytes": int64(4096)})
	if merged.Int64("arena.bytes") != 4096 {
		t.Fatalf("expected override to win, got %d", merged.Int64("arena.bytes"))
	}
	if merged.Int64("shard.count") != base.Int64("shard.count") {
		t.Fatalf("expected unrelated keys to carry over from base")
	}
	if base.Int64("arena.bytes") == 4096 {
		t.Fatalf("Mixinconfig must not mutate its inputs")
	}
}

func TestDefaultShardCount(t *testing.T) {
	c := Default()
	if c.Int64("shard.count") != 8 {
		t.Fatalf("expected 8 shards, got %d", c.Int64("shard.count"))
	}
}
