// Package quote turns a page breakdown into a price.
package quote

import "printcalc/internal/domain"

// Price multiplies each page category by the profile's per-page price. The
// breakdown must already have passed PageBreakdown.Validate.
func Price(breakdown domain.PageBreakdown, profile domain.PricingProfile) domain.PriceQuote {
	q := domain.PriceQuote{
		PriceBW:    float64(breakdown.BWPages) * profile.BWPrice,
		PriceColor: float64(breakdown.ColorPages) * profile.ColorPrice,
		PricePhoto: float64(breakdown.PhotoPages) * profile.PhotoPrice,
	}
	q.TotalPrice = q.PriceBW + q.PriceColor + q.PricePhoto
	return q
}
