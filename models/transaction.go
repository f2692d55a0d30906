package models

import "strconv"

// Transaction is one registered sale price reported for a complex.
// DealPrice is in the same 10,000-won unit as parsed listing prices.
type Transaction struct {
	CollectionID   string  `json:"collection_id"`
	TradeType      string  `json:"trade_type"`
	TradeDate      string  `json:"trade_date"` // YYYYMMDD, empty when unknown
	DealPrice      int64   `json:"deal_price"`
	FormattedPrice string  `json:"formatted_price"`
	Floor          int     `json:"floor"`
	Area           float64 `json:"area"`
	ExclusiveArea  float64 `json:"exclusive_area"`
}

// Key identifies a transaction. The same deal seen again in a later session
// maps to the same key.
func (t Transaction) Key() string {
	return t.CollectionID + "|" + t.TradeDate + "|" +
		strconv.FormatInt(t.DealPrice, 10) + "|" + strconv.Itoa(t.Floor)
}
