package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nduati/equipbot/internal/directory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := LoadCache(filepath.Join(t.TempDir(), "cache.json"))
	if err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}
	return c
}

func TestReconcileFuzzyMatch(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Identities: []Identity{
			{ID: "UBOT", DisplayName: "Deploy Bot", Email: ""},
			{ID: "UALICE", DisplayName: "Alice Wanjiku", Email: "awanjiku@example.com"},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "TB/0051", OwnerName: "Wanjiku Alice"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(res.Records))
	}
	got := res.Records[0]
	if got.OwnerSlackID != "UALICE" || got.OwnerEmail != "awanjiku@example.com" {
		t.Fatalf("unexpected record: %#v", got)
	}
	if res.Matched != 1 || res.CacheHits != 0 {
		t.Fatalf("unexpected counters: %#v", res)
	}
	if entry, ok := engine.Cache.Get("Wanjiku Alice"); !ok || entry.SlackID != "UALICE" {
		t.Fatalf("match not cached: %#v ok=%v", entry, ok)
	}
}

func TestReconcileMatchesEmailHandle(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Identities: []Identity{
			{ID: "UJUMA", DisplayName: "J. Otieno", Email: "juma.otieno@example.com"},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/1", OwnerName: "juma.otieno"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Records[0].OwnerSlackID != "UJUMA" {
		t.Fatalf("unexpected record: %#v", res.Records[0])
	}
}

func TestReconcileEmailHandleApostropheInvariance(t *testing.T) {
	t.Parallel()

	// The handle side is apostrophe-stripped just like display names.
	engine := &Engine{
		Identities: []Identity{
			{ID: "UOBRIEN", DisplayName: "Juma Peter O'Brien", Email: "o'brien.juma@example.com"},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/2", OwnerName: "obrien.juma"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Records[0].OwnerSlackID != "UOBRIEN" {
		t.Fatalf("unexpected record: %#v", res.Records[0])
	}
}

func TestReconcileApostropheInvariance(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Identities: []Identity{
			{ID: "UOBRIEN", DisplayName: "O'Brien Juma", Email: "jobrien@example.com"},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "MAC/1", OwnerName: "Juma OBrien"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Records[0].OwnerSlackID != "UOBRIEN" {
		t.Fatalf("unexpected record: %#v", res.Records[0])
	}
}

func TestReconcileFirstConfidentIdentityWins(t *testing.T) {
	t.Parallel()

	// Two identities both score 100; roster order decides.
	engine := &Engine{
		Identities: []Identity{
			{ID: "UFIRST", DisplayName: "Alice Wanjiku", Email: "first@example.com"},
			{ID: "USECOND", DisplayName: "Alice Wanjiku", Email: "second@example.com"},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "CHG/1", OwnerName: "Alice Wanjiku"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Records[0].OwnerSlackID != "UFIRST" {
		t.Fatalf("OwnerSlackID = %q, want UFIRST", res.Records[0].OwnerSlackID)
	}
}

func TestReconcileCacheHitIsAuthoritative(t *testing.T) {
	t.Parallel()

	cache := testCache(t)
	if _, err := cache.Put("Alice Wanjiku", CacheEntry{SlackID: "UCACHED", Email: "cached@example.com"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	// The roster would fuzzy-match a different identity; the cache wins.
	engine := &Engine{
		Identities: []Identity{
			{ID: "UROSTER", DisplayName: "Alice Wanjiku", Email: "roster@example.com"},
		},
		Cache:  cache,
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "CHG/1", OwnerName: "Alice Wanjiku"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Records[0].OwnerSlackID != "UCACHED" {
		t.Fatalf("OwnerSlackID = %q, want UCACHED", res.Records[0].OwnerSlackID)
	}
	if res.CacheHits != 1 {
		t.Fatalf("CacheHits = %d, want 1", res.CacheHits)
	}
}

func TestReconcileEmptyOwnerNamePassesThrough(t *testing.T) {
	t.Parallel()

	engine := &Engine{Cache: testCache(t), Logger: testLogger()}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/1"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].OwnerSlackID != "" {
		t.Fatalf("unexpected records: %#v", res.Records)
	}
	if len(res.Unmatched) != 0 {
		t.Fatalf("Unmatched = %v, want empty", res.Unmatched)
	}
}

func TestReconcileManualRejectDropsRecord(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Identities: []Identity{
			{ID: "UALICE", DisplayName: "Alice Wanjiku", Email: "alice@example.com"},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
		Resolver: ResolverFunc(func(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error) {
			return Resolution{Reject: true}, nil
		}),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/9", OwnerName: "Unknown Person"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// Rejected records are dropped entirely, not kept without owner info.
	if len(res.Records) != 0 {
		t.Fatalf("len(Records) = %d, want 0", len(res.Records))
	}
	if res.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", res.Dropped)
	}
	if len(res.Unmatched) != 1 || res.Unmatched[0] != "Unknown Person" {
		t.Fatalf("Unmatched = %v", res.Unmatched)
	}
}

func TestReconcileManualResolutionRequiresRosterMembership(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Cache:  testCache(t),
		Logger: testLogger(),
		Resolver: ResolverFunc(func(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error) {
			return Resolution{SlackID: "UNOBODY"}, nil
		}),
	}
	_, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/9", OwnerName: "Unknown Person"},
	})
	if err == nil {
		t.Fatalf("Reconcile() expected error for slack id outside the roster")
	}
}

func TestReconcileManualResolutionCachesMatch(t *testing.T) {
	t.Parallel()

	cache := testCache(t)
	engine := &Engine{
		Identities: []Identity{
			{ID: "UMANUAL", DisplayName: "Totally Different", Email: "manual@example.com"},
		},
		Cache:  cache,
		Logger: testLogger(),
		Resolver: ResolverFunc(func(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error) {
			return Resolution{SlackID: "UMANUAL"}, nil
		}),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/9", OwnerName: "Nachos"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].OwnerSlackID != "UMANUAL" {
		t.Fatalf("unexpected records: %#v", res.Records)
	}
	if entry, ok := cache.Get("Nachos"); !ok || entry.SlackID != "UMANUAL" {
		t.Fatalf("manual match not cached: %#v ok=%v", entry, ok)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()

	cache := testCache(t)
	identities := []Identity{
		{ID: "UALICE", DisplayName: "Alice Wanjiku", Email: "alice@example.com"},
	}
	records := []directory.EquipmentRecord{
		{EquipmentID: "TB/0051", OwnerName: "Alice Wanjiku"},
	}

	first := &Engine{Identities: identities, Cache: cache, Logger: testLogger()}
	res1, err := first.Reconcile(context.Background(), records)
	if err != nil {
		t.Fatalf("Reconcile(first) error = %v", err)
	}
	entryBefore, _ := cache.Get("Alice Wanjiku")

	second := &Engine{Identities: identities, Cache: cache, Logger: testLogger()}
	res2, err := second.Reconcile(context.Background(), records)
	if err != nil {
		t.Fatalf("Reconcile(second) error = %v", err)
	}
	if res2.Records[0] != res1.Records[0] {
		t.Fatalf("second run diverged: %#v vs %#v", res2.Records[0], res1.Records[0])
	}
	if res2.CacheHits != 1 {
		t.Fatalf("CacheHits = %d, want 1 on re-run", res2.CacheHits)
	}
	entryAfter, _ := cache.Get("Alice Wanjiku")
	if entryAfter != entryBefore {
		t.Fatalf("cache entry mutated on re-run: %#v vs %#v", entryAfter, entryBefore)
	}
}

func TestReconcileIdentityWithoutEmailSkipped(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Identities: []Identity{
			{ID: "UGHOST", DisplayName: "Alice Wanjiku", Email: ""},
		},
		Cache:  testCache(t),
		Logger: testLogger(),
	}
	res, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "TB/1", OwnerName: "Alice Wanjiku"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(res.Unmatched) != 1 {
		t.Fatalf("Unmatched = %v, want the name (email-less identity must be skipped)", res.Unmatched)
	}
}

func TestReconcileResolverErrorPropagates(t *testing.T) {
	t.Parallel()

	engine := &Engine{
		Cache:  testCache(t),
		Logger: testLogger(),
		Resolver: ResolverFunc(func(ctx context.Context, ownerName string, record directory.EquipmentRecord) (Resolution, error) {
			return Resolution{}, fmt.Errorf("operator went home")
		}),
	}
	_, err := engine.Reconcile(context.Background(), []directory.EquipmentRecord{
		{EquipmentID: "D/9", OwnerName: "Unknown Person"},
	})
	if err == nil {
		t.Fatalf("Reconcile() expected resolver error")
	}
}
