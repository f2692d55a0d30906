package models

import "time"

// Trade types a listing can carry after normalisation.
const (
	TradeSale        = "sale"
	TradeLease       = "lease"
	TradeMonthlyRent = "monthly-rent"
	TradeOther       = "other"
)

// ListingRecord is one marketplace listing as seen by a single collection session.
type ListingRecord struct {
	ID            string  `json:"id"`
	CollectionID  string  `json:"collection_id"`
	TradeType     string  `json:"trade_type"`
	PriceRaw      string  `json:"price_raw"`
	AreaLabel     string  `json:"area_label"`
	AreaPrimary   float64 `json:"area_primary"`
	FloorLabel    string  `json:"floor_label"`
	Direction     string  `json:"direction"`
	BuildingLabel string  `json:"building_label"`
	BrokerLabel   string  `json:"broker_label"`
	SameAddrCount int     `json:"same_addr_count"`
}

// Generation is an immutable point-in-time capture of a collection.
// It is written once and only ever superseded by newer generations.
type Generation struct {
	CollectionID string          `json:"collection_id"`
	GenerationID string          `json:"generation_id"`
	CapturedAt   time.Time       `json:"captured_at"`
	Records      []ListingRecord `json:"records"`
}

// Collection holds the descriptive metadata of a tracked complex.
type Collection struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Households int    `json:"households"`
	Address    string `json:"address"`
}
