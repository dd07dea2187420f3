package domain

import (
	"time"
)

// VisitDateLayout is the calendar-day format used in visit bucket keys
const VisitDateLayout = "2006-01-02"

// VisitKey identifies one rate-limit bucket: an IP address on a page for a calendar day
type VisitKey struct {
	IPAddress string `json:"ip_address"`
	Page      string `json:"page"`
	Day       string `json:"day"` // VisitDateLayout
}

// NewVisitKey computes the bucket key for a request seen at the given instant.
// The calendar day is taken in the location of at.
func NewVisitKey(ipAddress, page string, at time.Time) VisitKey {
	return VisitKey{
		IPAddress: ipAddress,
		Page:      page,
		Day:       at.Format(VisitDateLayout),
	}
}

// VisitMeta carries the attributes stored when a bucket is first created
type VisitMeta struct {
	VisitorID string    `json:"visitor_id"`
	UserAgent string    `json:"user_agent"`
	SeenAt    time.Time `json:"seen_at"`
}

// VisitAttempt represents a persisted rate-limit bucket
type VisitAttempt struct {
	ID         int64     `json:"id" db:"id"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	Page       string    `json:"page" db:"page"`
	VisitDate  string    `json:"visit_date" db:"visit_date"`
	VisitorID  string    `json:"visitor_id" db:"visitor_id"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	VisitCount int64     `json:"visit_count" db:"visit_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the bucket key of the attempt
func (v *VisitAttempt) Key() VisitKey {
	return VisitKey{IPAddress: v.IPAddress, Page: v.Page, Day: v.VisitDate}
}

// VisitResult is returned to the caller after a visit is admitted
type VisitResult struct {
	VisitorToken string    `json:"visitor_token"`
	NewVisitor   bool      `json:"new_visitor"`
	VisitCount   int64     `json:"visit_count"`
	Limit        int64     `json:"limit"`
	Remaining    int64     `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
}
