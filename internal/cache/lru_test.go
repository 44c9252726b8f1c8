// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package cache

import (
	"testing"
	"time"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRU[string](4, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	c.Set("a", "2")
	if v, _ := c.Get("a"); v != "2" {
		t.Errorf("Set did not overwrite, got %q", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](3, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch a so b becomes the eviction candidate.
	c.Get("a")
	c.Set("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should have survived eviction", key)
		}
	}
}

func TestLRUExpiresEntries(t *testing.T) {
	c := NewLRU[int](4, 10*time.Millisecond)
	c.Set("a", 1)
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len = %d", c.Len())
	}
}

func TestLRURemove(t *testing.T) {
	c := NewLRU[int](4, time.Minute)
	c.Set("a", 1)
	if !c.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if c.Remove("a") {
		t.Error("second Remove(a) = true, want false")
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[int](4, time.Minute)
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = %d hits, %d misses, want 1 and 1", hits, misses)
	}
}
