package models

import "time"

// ChangeType classifies a difference between two generations.
type ChangeType string

const (
	ChangeNew       ChangeType = "NEW"
	ChangeRemoved   ChangeType = "REMOVED"
	ChangePriceUp   ChangeType = "PRICE_UP"
	ChangePriceDown ChangeType = "PRICE_DOWN"
)

// IsPriceChange reports whether the type carries a price delta.
func (t ChangeType) IsPriceChange() bool {
	return t == ChangePriceUp || t == ChangePriceDown
}

// ChangeRecord is one classified difference produced by a diff run.
// Empty OldPriceRaw / NewPriceRaw mean the value does not apply to the type.
type ChangeRecord struct {
	CollectionID      string     `json:"collection_id"`
	ListingID         string     `json:"listing_id"`
	ChangeType        ChangeType `json:"change_type"`
	OldPriceRaw       string     `json:"old_price_raw,omitempty"`
	NewPriceRaw       string     `json:"new_price_raw,omitempty"`
	PriceDeltaUnits   int64      `json:"price_delta_units"`
	PriceDeltaPercent float64    `json:"price_delta_percent"`
	FromGenerationID  string     `json:"from_generation_id"`
	ToGenerationID    string     `json:"to_generation_id"`
	DetectedAt        time.Time  `json:"detected_at"`

	TradeType     string `json:"trade_type,omitempty"`
	AreaLabel     string `json:"area_label,omitempty"`
	BuildingLabel string `json:"building_label,omitempty"`
	FloorLabel    string `json:"floor_label,omitempty"`

	Read bool `json:"read"`
}

// Key identifies a change record within the append-only change log.
func (c ChangeRecord) Key() string {
	return c.CollectionID + "|" + c.FromGenerationID + "|" + c.ToGenerationID + "|" +
		c.ListingID + "|" + string(c.ChangeType)
}

// Summary aggregates a set of change records.
type Summary struct {
	New             int           `json:"new"`
	Removed         int           `json:"removed"`
	PriceUp         int           `json:"price_up"`
	PriceDown       int           `json:"price_down"`
	Total           int           `json:"total"`
	MostSignificant *ChangeRecord `json:"most_significant,omitempty"`
}
