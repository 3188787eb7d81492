package toolrt

import (
	"testing"
	"time"
)

func TestResultCache_PutAndGet(t *testing.T) {
	c, err := NewResultCache(CacheConfig{})
	if err != nil {
		t.Fatal(err)
	}

	args := []byte(`{"text":"hi"}`)
	if _, ok := c.TryGet("echo", args); ok {
		t.Fatal("hit on empty cache")
	}

	want := TextResult("hi")
	c.Put("echo", args, want)

	got, ok := c.TryGet("echo", args)
	if !ok {
		t.Fatal("miss after Put")
	}
	if got.IsError || len(got.Content) != 1 || got.Content[0].Text != "hi" {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResultCache_KeyIsLiteralSerialization(t *testing.T) {
	c, err := NewResultCache(CacheConfig{})
	if err != nil {
		t.Fatal(err)
	}

	// Semantically equal, byte-wise different arguments are distinct keys.
	c.Put("echo", []byte(`{"a":1,"b":2}`), TextResult("x"))
	if _, ok := c.TryGet("echo", []byte(`{"b":2,"a":1}`)); ok {
		t.Fatal("reordered arguments produced a hit; keys must be literal")
	}

	// Same arguments under a different tool name are also distinct.
	if _, ok := c.TryGet("other", []byte(`{"a":1,"b":2}`)); ok {
		t.Fatal("different tool name produced a hit")
	}
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c, err := NewResultCache(CacheConfig{TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	clock := newFakeClock()
	c.now = clock.now

	c.Put("echo", nil, TextResult("x"))
	if _, ok := c.TryGet("echo", nil); !ok {
		t.Fatal("miss before TTL")
	}

	clock.advance(2 * time.Minute)
	if _, ok := c.TryGet("echo", nil); ok {
		t.Fatal("hit after TTL expiry")
	}

	s := c.Stats()
	if s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
	if s.Entries != 0 {
		t.Errorf("Entries = %d after expiry, want 0", s.Entries)
	}
}

func TestResultCache_CapacityEviction(t *testing.T) {
	c, err := NewResultCache(CacheConfig{MaxEntries: 2})
	if err != nil {
		t.Fatal(err)
	}
	clock := newFakeClock()
	c.now = clock.now

	c.Put("a", nil, TextResult("a"))
	clock.advance(time.Second)
	c.Put("b", nil, TextResult("b"))
	clock.advance(time.Second)
	c.Put("c", nil, TextResult("c"))

	// Oldest entry (a) was evicted to make room for c.
	if _, ok := c.TryGet("a", nil); ok {
		t.Fatal("oldest entry survived capacity eviction")
	}
	if _, ok := c.TryGet("b", nil); !ok {
		t.Fatal("entry b evicted unexpectedly")
	}
	if _, ok := c.TryGet("c", nil); !ok {
		t.Fatal("entry c missing")
	}
}

func TestResultCache_IncludePatterns(t *testing.T) {
	c, err := NewResultCache(CacheConfig{IncludePatterns: []string{"get_*", "inspect_*"}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"get_scene", true},
		{"inspect_object", true},
		{"delete_object", false},
		{"get", false},
	}
	for _, tt := range tests {
		if got := c.ShouldCache(tt.name); got != tt.want {
			t.Errorf("ShouldCache(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	// No patterns at all means everything is cacheable.
	all, err := NewResultCache(CacheConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if !all.ShouldCache("delete_object") {
		t.Fatal("empty pattern list should cache every tool")
	}
}

func TestResultCache_BadPattern(t *testing.T) {
	if _, err := NewResultCache(CacheConfig{IncludePatterns: []string{"[unclosed"}}); err == nil {
		t.Fatal("expected error for malformed glob pattern")
	}
}

func TestResultCache_Invalidate(t *testing.T) {
	c, err := NewResultCache(CacheConfig{})
	if err != nil {
		t.Fatal(err)
	}

	c.Put("echo", []byte(`{"a":1}`), TextResult("1"))
	c.Put("echo", []byte(`{"a":2}`), TextResult("2"))
	c.Put("add", []byte(`{"a":1}`), TextResult("3"))

	c.Invalidate("echo")
	if _, ok := c.TryGet("echo", []byte(`{"a":1}`)); ok {
		t.Fatal("invalidated entry still present")
	}
	if _, ok := c.TryGet("add", []byte(`{"a":1}`)); !ok {
		t.Fatal("unrelated entry was invalidated")
	}
}
