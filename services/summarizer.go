package services

import (
	"math"
	"time"

	"complex-watch/models"
)

// Summarize counts change records per type and picks the most significant
// price change: largest absolute percent, then largest absolute delta, then
// smallest listing id. An empty input yields a zero Summary.
func Summarize(changes []models.ChangeRecord) models.Summary {
	var s models.Summary
	var best *models.ChangeRecord

	for i := range changes {
		c := changes[i]
		switch c.ChangeType {
		case models.ChangeNew:
			s.New++
		case models.ChangeRemoved:
			s.Removed++
		case models.ChangePriceUp:
			s.PriceUp++
		case models.ChangePriceDown:
			s.PriceDown++
		default:
			continue
		}
		s.Total++

		if c.ChangeType.IsPriceChange() && (best == nil || moreSignificant(c, *best)) {
			picked := c
			best = &picked
		}
	}

	s.MostSignificant = best
	return s
}

// Window returns the changes detected in [since, until). A zero until means
// no upper bound.
func Window(changes []models.ChangeRecord, since, until time.Time) []models.ChangeRecord {
	out := make([]models.ChangeRecord, 0, len(changes))
	for _, c := range changes {
		if c.DetectedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !c.DetectedAt.Before(until) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func moreSignificant(a, b models.ChangeRecord) bool {
	pa, pb := math.Abs(a.PriceDeltaPercent), math.Abs(b.PriceDeltaPercent)
	if pa != pb {
		return pa > pb
	}
	ua, ub := absInt(a.PriceDeltaUnits), absInt(b.PriceDeltaUnits)
	if ua != ub {
		return ua > ub
	}
	return a.ListingID < b.ListingID
}

func absInt(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
