package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"erasure-cloud/config"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	cs := NewWithClient(client, config.RedisConfig{Enabled: true, Address: mr.Addr(), DefaultTTL: 2 * time.Minute}, zerolog.Nop())
	t.Cleanup(func() { cs.Close() })
	if !cs.IsHealthy() {
		t.Fatal("Expected cache to be healthy")
	}
	return cs, mr
}

type machineRow struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
}

func TestGetOrLoadCachesResult(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()
	key := NewKey(KindMachines, "Owner@Example.com", "main", map[string]string{"status": "online"})

	var loads int32
	load := func(context.Context) ([]machineRow, error) {
		atomic.AddInt32(&loads, 1)
		return []machineRow{{ID: "m1", Hostname: "wipe-01"}}, nil
	}

	for i := 0; i < 3; i++ {
		rows, err := GetOrLoad(ctx, cs, key, load)
		if err != nil {
			t.Fatalf("GetOrLoad() error = %v", err)
		}
		if len(rows) != 1 || rows[0].Hostname != "wipe-01" {
			t.Fatalf("Unexpected rows %+v", rows)
		}
	}
	if loads != 1 {
		t.Errorf("Expected one load, got %d", loads)
	}

	if !mr.Exists(key.String()) {
		t.Fatalf("Expected %s to be stored", key)
	}
	if ttl := mr.TTL(key.String()); ttl != 2*time.Minute {
		t.Errorf("Expected 2m TTL, got %v", ttl)
	}

	mr.FastForward(3 * time.Minute)
	if _, err := GetOrLoad(ctx, cs, key, load); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Errorf("Expected reload after expiry, got %d loads", loads)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	cs, mr := newTestCache(t)
	key := NewKey(KindReports, "owner@example.com", "main", nil)

	_, err := GetOrLoad(context.Background(), cs, key, func(context.Context) ([]string, error) {
		return nil, errors.New("database down")
	})
	if err == nil {
		t.Fatal("Expected load error to propagate")
	}
	if mr.Exists(key.String()) {
		t.Error("Expected failed load not to be cached")
	}
}

func TestGetOrLoadSharesConcurrentMisses(t *testing.T) {
	cs, _ := newTestCache(t)
	key := NewKey(KindSubaccounts, "owner@example.com", "main", nil)

	var loads int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = GetOrLoad(context.Background(), cs, key, load)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if loads > 2 {
		t.Errorf("Expected concurrent misses to share a load, got %d loads", loads)
	}
	for _, r := range results {
		if r != 42 {
			t.Errorf("Expected 42, got %d", r)
		}
	}
}

func TestInvalidateOwner(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()

	keep := NewKey(KindMachines, "other@example.com", "main", nil)
	dropA := NewKey(KindMachines, "owner@example.com", "main", nil)
	dropB := NewKey(KindMachines, "owner@example.com", "owner@example.com", map[string]string{"search": "x"})
	otherKind := NewKey(KindReports, "owner@example.com", "main", nil)
	for _, k := range []Key{keep, dropA, dropB, otherKind} {
		if _, err := GetOrLoad(ctx, cs, k, func(context.Context) (string, error) { return "v", nil }); err != nil {
			t.Fatal(err)
		}
	}

	cs.InvalidateOwner(ctx, "OWNER@example.com", KindMachines)

	if mr.Exists(dropA.String()) || mr.Exists(dropB.String()) {
		t.Error("Expected owner's machine entries to be dropped")
	}
	if !mr.Exists(keep.String()) || !mr.Exists(otherKind.String()) {
		t.Error("Expected unrelated entries to survive")
	}

	cs.InvalidateKind(ctx, KindReports)
	if mr.Exists(otherKind.String()) {
		t.Error("Expected kind-wide invalidation to drop reports")
	}
}

func TestCircuitBreakerDegradesToLoad(t *testing.T) {
	cs, mr := newTestCache(t)
	ctx := context.Background()
	key := NewKey(KindPerm, "user@example.com", "main", nil)

	mr.Close()
	var loads int
	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"User"}, nil
	}
	for i := 0; i < 5; i++ {
		roles, err := GetOrLoad(ctx, cs, key, load)
		if err != nil {
			t.Fatalf("Expected Redis failure to fall back to load, got %v", err)
		}
		if len(roles) != 1 {
			t.Fatalf("Unexpected roles %v", roles)
		}
	}
	if loads != 5 {
		t.Errorf("Expected every call to load, got %d", loads)
	}
	if cs.IsHealthy() {
		t.Error("Expected circuit breaker to open")
	}
	if _, err := cs.Get(ctx, key.String()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable while open, got %v", err)
	}

	cs.InvalidateOwner(ctx, "user@example.com", KindPerm)
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cs *CacheService
	v, err := GetOrLoad(context.Background(), cs, NewKey(KindAccounts, "a@b.c", "main", nil), func(context.Context) (string, error) {
		return "direct", nil
	})
	if err != nil || v != "direct" {
		t.Errorf("GetOrLoad() = %q, %v", v, err)
	}
	cs.InvalidateOwner(context.Background(), "a@b.c", KindAccounts)
	cs.InvalidateKind(context.Background(), KindPerm)
}

func TestKeys(t *testing.T) {
	k := NewKey(KindMachines, " Owner@Example.com ", "", map[string]string{"b": "2", "a": "1", "empty": ""})
	if k.Email != "owner@example.com" || k.Tenant != "-" {
		t.Errorf("Unexpected key parts %+v", k)
	}
	if len(k.Filter) != 16 {
		t.Errorf("Expected 16 char fingerprint, got %q", k.Filter)
	}
	if Fingerprint(map[string]string{"a": "1", "b": "2"}) != k.Filter {
		t.Error("Expected fingerprint to ignore order and empty params")
	}
	if Fingerprint(nil) != "all" {
		t.Errorf("Expected empty filter to fingerprint as all, got %q", Fingerprint(nil))
	}
	if got, want := k.String(), "ec:machines:owner@example.com:-:"+k.Filter; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := escapePattern("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Errorf("escapePattern() = %q", got)
	}
}

func TestClampTTL(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, 2 * time.Minute},
		{10 * time.Second, time.Minute},
		{3 * time.Minute, 3 * time.Minute},
		{time.Hour, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := ClampTTL(tt.in); got != tt.want {
			t.Errorf("ClampTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
