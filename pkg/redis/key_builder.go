package redis

import (
	"crypto/sha256"
	"fmt"
)

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	if environment == "development" || environment == "staging" || environment == "test" {
		prefix = "staging"
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// KeyVisitBucket returns the key of the (ip, page, day) rate-limit bucket.
// IP and page are hashed so the key carries no PII and no separators.
func (kb *KeyBuilder) KeyVisitBucket(day, ipAddress, page string) string {
	return kb.BuildKey(fmt.Sprintf("visit:%s:%s", day, bucketHash(ipAddress, page)))
}

// KeyVisitDayPattern matches every bucket of a day
func (kb *KeyBuilder) KeyVisitDayPattern(day string) string {
	return kb.BuildKey(fmt.Sprintf("visit:%s:*", day))
}

// KeyPricingProfile returns the cache key of a tenant's resolved pricing profile
func (kb *KeyBuilder) KeyPricingProfile(slug string) string {
	return kb.BuildKey(fmt.Sprintf("pricing:profile:%s", slug))
}

func bucketHash(ipAddress, page string) string {
	hash := sha256.Sum256([]byte(ipAddress + "|" + page))
	return fmt.Sprintf("%x", hash)[:32]
}
