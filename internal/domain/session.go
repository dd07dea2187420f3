package domain

import "time"

// SessionClaims is the tenant context carried by a signed session token
type SessionClaims struct {
	Subject    string    `json:"sub"`
	TenantSlug string    `json:"tenant_slug"`
	IssuedAt   time.Time `json:"iat"`
	ExpiresAt  time.Time `json:"exp"`
}
