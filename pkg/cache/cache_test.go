package cache

import (
	"testing"
	"time"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(max int) (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New(max)
	c.now = clk.now
	return c, clk
}

func TestSetGetAndExpire(t *testing.T) {
	c, clk := newTestCache(0)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected no value initially")
	}
	c.Set("k", "hello", 50*time.Millisecond)
	if v, ok := c.Get("k"); !ok || v.(string) != "hello" {
		t.Fatalf("expected value 'hello', got %v ok=%v", v, ok)
	}

	clk.advance(50 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired value to be gone")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy delete on read, len=%d", c.Len())
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("k", 42, time.Second)
	if v, ok := c.Get("k"); !ok || v.(int) != 42 {
		t.Fatalf("expected 42 present before delete, got %v ok=%v", v, ok)
	}
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected deleted value to be absent")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a")
	c.Set("c", 3, 0)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive, it was used most recently")
	}
}

func TestSetIfAbsent(t *testing.T) {
	c, clk := newTestCache(0)
	if !c.SetIfAbsent("k", 1, time.Second) {
		t.Fatalf("first SetIfAbsent should store")
	}
	if c.SetIfAbsent("k", 2, time.Second) {
		t.Fatalf("second SetIfAbsent should not overwrite")
	}
	clk.advance(time.Second)
	if !c.SetIfAbsent("k", 3, time.Second) {
		t.Fatalf("SetIfAbsent should store over an expired entry")
	}
}

func TestSweep(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	c.Set("forever", 3, 0)
	clk.advance(time.Minute)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries left, got %d", c.Len())
	}
}
