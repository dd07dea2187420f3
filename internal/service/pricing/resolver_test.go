package pricing

import (
	"context"
	"errors"
	"testing"

	"printcalc/internal/domain"
	"printcalc/internal/repository"
	"printcalc/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct{ calls int }

func (f *failingRepo) GetSettingsBySlug(ctx context.Context, slug string) (*domain.TenantSettings, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func floatPtr(v float64) *float64 { return &v }

func seededRepo(t *testing.T) *repository.MemoryPricingRepository {
	t.Helper()
	repo := repository.NewMemoryPricingRepository()
	require.NoError(t, repo.SaveSettings(context.Background(), &domain.TenantSettings{
		TenantSlug:     "acme",
		BWPrice:        300,
		ColorPrice:     800,
		PhotoPrice:     floatPtr(1500),
		ThresholdColor: floatPtr(12),
		ThresholdPhoto: floatPtr(40),
	}))
	require.NoError(t, repo.SaveSettings(context.Background(), &domain.TenantSettings{
		TenantSlug: "sparse",
		BWPrice:    250,
		ColorPrice: 700,
	}))
	require.NoError(t, repo.SaveSettings(context.Background(), &domain.TenantSettings{
		TenantSlug:     "broken",
		BWPrice:        250,
		ColorPrice:     700,
		ThresholdColor: floatPtr(150),
	}))
	return repo
}

func TestResolver_Resolve(t *testing.T) {
	resolver := NewResolver(seededRepo(t), domain.DefaultPricingProfile(), nil, nil)
	defaults := domain.DefaultPricingProfile()

	tests := []struct {
		name string
		slug string
		want domain.PricingProfile
	}{
		{name: "anonymous", slug: "", want: defaults},
		{name: "testing tenant", slug: domain.AnonymousTenant, want: defaults},
		{name: "unknown tenant", slug: "ghost", want: defaults},
		{name: "invalid stored thresholds", slug: "broken", want: defaults},
		{
			name: "full tenant settings",
			slug: "acme",
			want: domain.PricingProfile{TenantSlug: "acme", BWPrice: 300, ColorPrice: 800, PhotoPrice: 1500, ThresholdColor: 12, ThresholdPhoto: 40, Version: 1},
		},
		{
			name: "photo price and thresholds fall back",
			slug: "sparse",
			want: domain.PricingProfile{TenantSlug: "sparse", BWPrice: 250, ColorPrice: 700, PhotoPrice: 700, ThresholdColor: 20, ThresholdPhoto: 30, Version: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Resolve(context.Background(), tt.slug)
			got.UpdatedAt = tt.want.UpdatedAt
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_RepositoryErrorUsesDefaults(t *testing.T) {
	repo := &failingRepo{}
	resolver := NewResolver(repo, domain.DefaultPricingProfile(), nil, nil)

	got := resolver.Resolve(context.Background(), "acme")
	assert.True(t, got.IsDefault)
	assert.Equal(t, domain.DefaultBWPrice, got.BWPrice)
	assert.Equal(t, 1, repo.calls)
}

func TestResolver_CustomDefaults(t *testing.T) {
	custom := domain.PricingProfile{BWPrice: 100, ColorPrice: 200, PhotoPrice: 300, ThresholdColor: 10, ThresholdPhoto: 25}
	resolver := NewResolver(repository.NewMemoryPricingRepository(), custom, nil, nil)

	got := resolver.Resolve(context.Background(), "")
	assert.Equal(t, 100.0, got.BWPrice)
	assert.Equal(t, domain.AnonymousTenant, got.TenantSlug)
	assert.True(t, got.IsDefault)
}

func TestResolver_CachesProfiles(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	defer cache.Close()

	repo := seededRepo(t)
	resolver := NewResolver(repo, domain.DefaultPricingProfile(), cache, nil)
	ctx := context.Background()

	first := resolver.Resolve(ctx, "acme")
	key := cache.KeyBuilder.KeyPricingProfile("acme")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, redis.TTLPricingProfile, mr.TTL(key))

	// A change in the store is hidden until the cache entry is dropped
	require.NoError(t, repo.SaveSettings(ctx, &domain.TenantSettings{TenantSlug: "acme", BWPrice: 999, ColorPrice: 999}))
	assert.Equal(t, first.BWPrice, resolver.Resolve(ctx, "acme").BWPrice)

	require.NoError(t, resolver.Invalidate(ctx, "acme"))
	assert.Equal(t, 999.0, resolver.Resolve(ctx, "acme").BWPrice)
}

func TestResolver_IgnoresMalformedCacheEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, mr.Set(cache.KeyBuilder.KeyPricingProfile("acme"), "{not json"))

	resolver := NewResolver(seededRepo(t), domain.DefaultPricingProfile(), cache, nil)
	assert.Equal(t, 300.0, resolver.Resolve(context.Background(), "acme").BWPrice)
}
