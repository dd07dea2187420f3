package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"printcalc/internal/domain"
	pkgredis "printcalc/pkg/redis"

	"github.com/redis/go-redis/v9"
)

//go:embed visit_bucket.lua
var visitBucketLua string

var visitBucketScript = redis.NewScript(visitBucketLua)

// redisVisitRepository keeps buckets as Redis hashes that expire on their own
type redisVisitRepository struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisVisitRepository creates a visit repository backed by Redis
func NewRedisVisitRepository(client *pkgredis.Client) VisitRepository {
	return &redisVisitRepository{
		client: client,
		ttl:    pkgredis.TTLVisitBucket,
	}
}

func (r *redisVisitRepository) IncrementBelow(ctx context.Context, key domain.VisitKey, meta domain.VisitMeta, limit int64) (int64, bool, error) {
	bucket := r.client.KeyBuilder.KeyVisitBucket(key.Day, key.IPAddress, key.Page)

	res, err := r.client.RunScript(ctx, visitBucketScript, []string{bucket},
		limit,
		int64(r.ttl/time.Second),
		key.IPAddress,
		key.Page,
		key.Day,
		meta.VisitorID,
		meta.UserAgent,
		meta.SeenAt.UnixNano(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record page visit: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected visit script result: %v", res)
	}
	recorded, ok1 := values[0].(int64)
	count, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("unexpected visit script result: %v", res)
	}

	return count, recorded == 1, nil
}

func (r *redisVisitRepository) GetVisit(ctx context.Context, key domain.VisitKey) (*domain.VisitAttempt, error) {
	bucket := r.client.KeyBuilder.KeyVisitBucket(key.Day, key.IPAddress, key.Page)

	fields, err := r.client.HGetAll(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get page visit: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	count, err := strconv.ParseInt(fields["visit_count"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse visit count: %w", err)
	}

	return &domain.VisitAttempt{
		IPAddress:  fields["ip_address"],
		Page:       fields["page"],
		VisitDate:  fields["visit_date"],
		VisitorID:  fields["visitor_id"],
		UserAgent:  fields["user_agent"],
		VisitCount: count,
		CreatedAt:  unixNanoField(fields["created_at"]),
		UpdatedAt:  unixNanoField(fields["updated_at"]),
	}, nil
}

// DeleteBefore only has to look at the days a bucket can still be alive for,
// since older buckets have already expired.
func (r *redisVisitRepository) DeleteBefore(ctx context.Context, day string) (int64, error) {
	cutoff, err := time.Parse(domain.VisitDateLayout, day)
	if err != nil {
		return 0, fmt.Errorf("invalid visit date %q: %w", day, err)
	}

	liveDays := int(r.ttl/(24*time.Hour)) + 1
	var deleted int64
	for i := 1; i <= liveDays; i++ {
		pattern := r.client.KeyBuilder.KeyVisitDayPattern(cutoff.AddDate(0, 0, -i).Format(domain.VisitDateLayout))
		n, err := r.client.DeleteMatching(ctx, pattern)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete old page visits: %w", err)
		}
		deleted += n
	}

	return deleted, nil
}

func unixNanoField(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}
