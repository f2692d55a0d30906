package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"complex-watch/models"
)

var typeOrder = map[models.ChangeType]int{
	models.ChangeNew:       0,
	models.ChangeRemoved:   1,
	models.ChangePriceUp:   2,
	models.ChangePriceDown: 3,
}

// Detect diffs two generations of the same collection. It returns nothing
// when either generation is missing, which is the normal state before a
// collection has two captures. Price pairs that fail to parse, or that parse
// to the same value, are not reported.
//
// Records are stamped with the newer generation's capture time and sorted by
// type then listing id, so repeated runs over the same pair are identical.
func Detect(older, newer *models.Generation) []models.ChangeRecord {
	if older == nil || newer == nil {
		return []models.ChangeRecord{}
	}

	prev := indexRecords(older.Records)
	curr := indexRecords(newer.Records)

	base := models.ChangeRecord{
		CollectionID:     newer.CollectionID,
		FromGenerationID: older.GenerationID,
		ToGenerationID:   newer.GenerationID,
		DetectedAt:       newer.CapturedAt,
	}

	changes := make([]models.ChangeRecord, 0)

	for id, rec := range curr {
		old, existed := prev[id]
		if !existed {
			c := withListing(base, rec)
			c.ChangeType = models.ChangeNew
			c.NewPriceRaw = rec.PriceRaw
			changes = append(changes, c)
			continue
		}
		if c, ok := priceChange(base, old, rec); ok {
			changes = append(changes, c)
		}
	}

	for id, rec := range prev {
		if _, still := curr[id]; still {
			continue
		}
		c := withListing(base, rec)
		c.ChangeType = models.ChangeRemoved
		c.OldPriceRaw = rec.PriceRaw
		changes = append(changes, c)
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].ChangeType != changes[j].ChangeType {
			return typeOrder[changes[i].ChangeType] < typeOrder[changes[j].ChangeType]
		}
		return changes[i].ListingID < changes[j].ListingID
	})
	return changes
}

func priceChange(base models.ChangeRecord, old, cur models.ListingRecord) (models.ChangeRecord, bool) {
	if old.PriceRaw == cur.PriceRaw {
		return models.ChangeRecord{}, false
	}

	oldValue, err := ParsePrice(old.PriceRaw)
	if err != nil {
		return models.ChangeRecord{}, false
	}
	newValue, err := ParsePrice(cur.PriceRaw)
	if err != nil {
		return models.ChangeRecord{}, false
	}

	delta := newValue - oldValue
	if delta == 0 {
		return models.ChangeRecord{}, false
	}

	c := withListing(base, cur)
	c.OldPriceRaw = old.PriceRaw
	c.NewPriceRaw = cur.PriceRaw
	c.PriceDeltaUnits = delta
	c.PriceDeltaPercent = percentOf(delta, oldValue)
	if delta > 0 {
		c.ChangeType = models.ChangePriceUp
	} else {
		c.ChangeType = models.ChangePriceDown
	}
	return c, true
}

// percentOf returns delta as a percentage of base rounded to two places.
// A zero base has no meaningful percentage and yields 0.
func percentOf(delta, base int64) float64 {
	if base == 0 {
		return 0
	}
	pct := decimal.NewFromInt(delta).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(base)).
		Round(2)
	f, _ := pct.Float64()
	return f
}

func withListing(base models.ChangeRecord, rec models.ListingRecord) models.ChangeRecord {
	base.ListingID = rec.ID
	base.TradeType = rec.TradeType
	base.AreaLabel = rec.AreaLabel
	base.BuildingLabel = rec.BuildingLabel
	base.FloorLabel = rec.FloorLabel
	return base
}

func indexRecords(records []models.ListingRecord) map[string]models.ListingRecord {
	m := make(map[string]models.ListingRecord, len(records))
	for _, r := range records {
		if _, dup := m[r.ID]; dup {
			continue
		}
		m[r.ID] = r
	}
	return m
}
