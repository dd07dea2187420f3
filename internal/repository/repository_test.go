package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"printcalc/internal/domain"
	"printcalc/pkg/database"
	pkgredis "printcalc/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type visitRepoFactory func(t *testing.T) VisitRepository

func visitRepoFactories() map[string]visitRepoFactory {
	factories := map[string]visitRepoFactory{
		"memory": func(t *testing.T) VisitRepository {
			return NewMemoryVisitRepository()
		},
		"sqlite": func(t *testing.T) VisitRepository {
			return NewSQLiteVisitRepository(newTestSQLite(t))
		},
		"redis": func(t *testing.T) VisitRepository {
			return NewRedisVisitRepository(newTestRedis(t))
		},
	}
	if os.Getenv("DATABASE_URL") != "" {
		factories["postgres"] = func(t *testing.T) VisitRepository {
			return NewVisitorRepository(newTestPostgres(t))
		}
	}
	return factories
}

// newTestPostgres connects to DATABASE_URL and starts from empty tables
func newTestPostgres(t *testing.T) *database.PostgresDB {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewPostgresDBWithOptions(ctx, os.Getenv("DATABASE_URL"), database.PoolOptions{MaxConns: 30})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Pool.Exec(ctx, PostgresSchema)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, "TRUNCATE page_visits, settings, users RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return db
}

func newTestSQLite(t *testing.T) *database.SQLiteDB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "print.db"), SQLiteSchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testMeta() domain.VisitMeta {
	return domain.VisitMeta{
		VisitorID: "visitor-1",
		UserAgent: "test-agent",
		SeenAt:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestVisitRepository_IncrementBelow(t *testing.T) {
	for name, factory := range visitRepoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			key := domain.VisitKey{IPAddress: "10.0.0.1", Page: "calculate-price", Day: "2026-03-14"}

			for i := int64(1); i <= 3; i++ {
				count, recorded, err := repo.IncrementBelow(ctx, key, testMeta(), 3)
				require.NoError(t, err)
				assert.True(t, recorded)
				assert.Equal(t, i, count)
			}

			count, recorded, err := repo.IncrementBelow(ctx, key, testMeta(), 3)
			require.NoError(t, err)
			assert.False(t, recorded)
			assert.Equal(t, int64(3), count)

			visit, err := repo.GetVisit(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, visit)
			assert.Equal(t, int64(3), visit.VisitCount)
			assert.Equal(t, "visitor-1", visit.VisitorID)
			assert.Equal(t, "test-agent", visit.UserAgent)
			assert.Equal(t, key, visit.Key())
		})
	}
}

func TestVisitRepository_BucketsAreIndependent(t *testing.T) {
	for name, factory := range visitRepoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			base := domain.VisitKey{IPAddress: "10.0.0.1", Page: "calculate-price", Day: "2026-03-14"}

			_, recorded, err := repo.IncrementBelow(ctx, base, testMeta(), 1)
			require.NoError(t, err)
			require.True(t, recorded)

			others := []domain.VisitKey{
				{IPAddress: "10.0.0.2", Page: base.Page, Day: base.Day},
				{IPAddress: base.IPAddress, Page: "print/acme/calculate-price", Day: base.Day},
				{IPAddress: base.IPAddress, Page: base.Page, Day: "2026-03-15"},
			}
			for _, key := range others {
				count, recorded, err := repo.IncrementBelow(ctx, key, testMeta(), 1)
				require.NoError(t, err)
				assert.True(t, recorded, "key %+v", key)
				assert.Equal(t, int64(1), count)
			}
		})
	}
}

func TestVisitRepository_GetVisitMissing(t *testing.T) {
	for name, factory := range visitRepoFactories() {
		t.Run(name, func(t *testing.T) {
			visit, err := factory(t).GetVisit(context.Background(), domain.VisitKey{IPAddress: "1.1.1.1", Page: "p", Day: "2026-01-01"})
			require.NoError(t, err)
			assert.Nil(t, visit)
		})
	}
}

func TestVisitRepository_ConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	const (
		limit   = 5
		callers = 25
	)

	for name, factory := range visitRepoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			key := domain.VisitKey{IPAddress: "10.0.0.9", Page: "calculate-price", Day: "2026-03-14"}

			var (
				wg       sync.WaitGroup
				admitted atomic.Int64
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, recorded, err := repo.IncrementBelow(ctx, key, testMeta(), limit)
					if assert.NoError(t, err) && recorded {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(limit), admitted.Load())

			visit, err := repo.GetVisit(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, visit)
			assert.Equal(t, int64(limit), visit.VisitCount)
		})
	}
}

func TestVisitRepository_DeleteBefore(t *testing.T) {
	for name, factory := range visitRepoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			old := domain.VisitKey{IPAddress: "10.0.0.1", Page: "calculate-price", Day: "2026-03-13"}
			current := domain.VisitKey{IPAddress: "10.0.0.1", Page: "calculate-price", Day: "2026-03-14"}

			for _, key := range []domain.VisitKey{old, current} {
				_, _, err := repo.IncrementBelow(ctx, key, testMeta(), 5)
				require.NoError(t, err)
			}

			deleted, err := repo.DeleteBefore(ctx, "2026-03-14")
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			visit, err := repo.GetVisit(ctx, old)
			require.NoError(t, err)
			assert.Nil(t, visit)

			visit, err = repo.GetVisit(ctx, current)
			require.NoError(t, err)
			assert.NotNil(t, visit)
		})
	}
}

func TestPostgresVisitRepository_FullBucketIsUnchanged(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db := newTestPostgres(t)
	repo := NewVisitorRepository(db)
	key := domain.VisitKey{IPAddress: "10.0.0.1", Page: "calculate-price", Day: "2026-03-14"}

	for i := 0; i < 2; i++ {
		_, recorded, err := repo.IncrementBelow(ctx, key, testMeta(), 2)
		require.NoError(t, err)
		require.True(t, recorded)
	}

	var before time.Time
	require.NoError(t, db.Pool.QueryRow(ctx, "SELECT updated_at FROM page_visits").Scan(&before))

	later := testMeta()
	later.SeenAt = later.SeenAt.Add(time.Hour)
	count, recorded, err := repo.IncrementBelow(ctx, key, later, 2)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, int64(2), count)

	var (
		after time.Time
		rows  int
	)
	require.NoError(t, db.Pool.QueryRow(ctx, "SELECT updated_at, (SELECT COUNT(*) FROM page_visits) FROM page_visits").Scan(&after, &rows))
	assert.True(t, before.Equal(after))
	assert.Equal(t, 1, rows)
}

func TestRedisVisitRepository_BucketExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	defer client.Close()

	repo := NewRedisVisitRepository(client)
	key := domain.VisitKey{IPAddress: "10.0.0.1", Page: "calculate-price", Day: "2026-03-14"}

	_, _, err = repo.IncrementBelow(context.Background(), key, testMeta(), 5)
	require.NoError(t, err)

	bucket := client.KeyBuilder.KeyVisitBucket(key.Day, key.IPAddress, key.Page)
	assert.Equal(t, pkgredis.TTLVisitBucket, mr.TTL(bucket))

	mr.FastForward(pkgredis.TTLVisitBucket + time.Second)
	visit, err := repo.GetVisit(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, visit)
}

type pricingStore interface {
	PricingRepository
	SettingsWriter
}

func pricingStores(t *testing.T) map[string]pricingStore {
	stores := map[string]pricingStore{
		"memory": NewMemoryPricingRepository(),
		"sqlite": NewSQLitePricingRepository(newTestSQLite(t)),
	}
	if os.Getenv("DATABASE_URL") != "" {
		stores["postgres"] = NewPricingRepository(newTestPostgres(t))
	}
	return stores
}

func floatPtr(v float64) *float64 { return &v }

func TestPricingRepository_SaveAndGet(t *testing.T) {
	for name, store := range pricingStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			settings := &domain.TenantSettings{
				TenantSlug:     "acme",
				BWPrice:        300,
				ColorPrice:     900,
				ThresholdColor: floatPtr(15),
			}
			require.NoError(t, store.SaveSettings(ctx, settings))
			assert.NotZero(t, settings.TenantID)
			assert.Equal(t, int64(1), settings.Version)

			got, err := store.GetSettingsBySlug(ctx, "acme")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "acme", got.TenantSlug)
			assert.Equal(t, 300.0, got.BWPrice)
			assert.Equal(t, 900.0, got.ColorPrice)
			assert.Nil(t, got.PhotoPrice)
			require.NotNil(t, got.ThresholdColor)
			assert.Equal(t, 15.0, *got.ThresholdColor)
			assert.Nil(t, got.ThresholdPhoto)

			settings.PhotoPrice = floatPtr(1800)
			require.NoError(t, store.SaveSettings(ctx, settings))
			assert.Equal(t, int64(2), settings.Version)

			got, err = store.GetSettingsBySlug(ctx, "acme")
			require.NoError(t, err)
			require.NotNil(t, got.PhotoPrice)
			assert.Equal(t, 1800.0, *got.PhotoPrice)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestPricingRepository_UnknownTenant(t *testing.T) {
	for name, store := range pricingStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.GetSettingsBySlug(context.Background(), "nobody")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}
