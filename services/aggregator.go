package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"complex-watch/models"
)

// Default termination limits for a collection session.
const (
	DefaultStallLimit  = 5
	DefaultMaxAttempts = 100
)

// Aggregator accumulates the listing pages of one collection session into a
// deduplicated listing set. One Aggregator exists per session. It does no
// locking: the caller must serialize Ingest and ShouldContinue calls.
type Aggregator struct {
	collectionID string
	generationID string

	stallLimit  int
	maxAttempts int

	records map[string]models.ListingRecord
	order   []string

	collection *models.Collection

	transactions []models.Transaction
	txSeen       map[string]struct{}

	reportedTotal int
	pages         int
	freshSince    int

	attempts int
	stalls   int
	done     bool

	frozen []models.ListingRecord
}

// NewAggregator creates an Aggregator for one session of a collection.
func NewAggregator(collectionID, generationID string) *Aggregator {
	return &Aggregator{
		collectionID: collectionID,
		generationID: generationID,
		stallLimit:   DefaultStallLimit,
		maxAttempts:  DefaultMaxAttempts,
		records:      make(map[string]models.ListingRecord),
		txSeen:       make(map[string]struct{}),
	}
}

// SetLimits overrides the stall and attempt limits. Non-positive values keep
// the current setting.
func (a *Aggregator) SetLimits(stallLimit, maxAttempts int) {
	if stallLimit > 0 {
		a.stallLimit = stallLimit
	}
	if maxAttempts > 0 {
		a.maxAttempts = maxAttempts
	}
}

// CollectionID returns the collection this session belongs to.
func (a *Aggregator) CollectionID() string { return a.collectionID }

// GenerationID returns the session token the finalized set will be stored under.
func (a *Aggregator) GenerationID() string { return a.generationID }

// Ingest merges a classified payload into the session. Listing pages add
// records whose id has not been seen yet; an id already present is never
// overwritten. Collection metadata fills in fields still unknown. Transaction
// pages add deals not yet seen in this session. Everything else, and
// anything arriving after Finalize, is ignored.
func (a *Aggregator) Ingest(kind models.Kind, payload json.RawMessage, sourceURL string) {
	if a.frozen != nil {
		return
	}

	switch kind {
	case models.KindListingPage:
		a.ingestListingPage(payload)
	case models.KindCollectionMetadata:
		a.ingestMetadata(payload)
	case models.KindTransactionPage:
		a.ingestTransactions(payload)
	}
}

// ShouldContinue reports whether the caller should perform another
// pagination step. scrollMoved tells whether the last step changed the
// viewport. New listings since the previous call, or a moving viewport,
// reset the stall counter; a stuck viewport increments it. The session ends
// when the stall counter reaches the stall limit or the attempt cap is hit,
// and stays ended.
func (a *Aggregator) ShouldContinue(scrollMoved bool) bool {
	if a.done {
		return false
	}
	a.attempts++

	if a.freshSince > 0 {
		a.stalls = 0
		a.freshSince = 0
	}
	if scrollMoved {
		a.stalls = 0
	} else {
		a.stalls++
	}

	if a.stalls >= a.stallLimit || a.attempts >= a.maxAttempts {
		a.done = true
		return false
	}
	return true
}

// Finalize returns the accumulated records in first-seen order. The first
// call freezes the session; later calls return the same result.
func (a *Aggregator) Finalize() []models.ListingRecord {
	if a.frozen == nil {
		a.frozen = make([]models.ListingRecord, 0, len(a.order))
		for _, id := range a.order {
			a.frozen = append(a.frozen, a.records[id])
		}
		a.done = true
	}
	out := make([]models.ListingRecord, len(a.frozen))
	copy(out, a.frozen)
	return out
}

// Progress returns the number of unique listings collected so far and the
// total the marketplace last reported.
func (a *Aggregator) Progress() (collected, reported int) {
	return len(a.order), a.reportedTotal
}

// Attempts returns the number of ShouldContinue calls made so far.
func (a *Aggregator) Attempts() int { return a.attempts }

// Pages returns the number of listing pages ingested.
func (a *Aggregator) Pages() int { return a.pages }

// Collection returns the collection metadata seen during the session, if any.
func (a *Aggregator) Collection() *models.Collection {
	if a.collection == nil {
		return nil
	}
	c := *a.collection
	return &c
}

// Transactions returns the real-transaction records seen during the
// session, in first-seen order.
func (a *Aggregator) Transactions() []models.Transaction {
	out := make([]models.Transaction, len(a.transactions))
	copy(out, a.transactions)
	return out
}

// totalCount stays raw so an odd value only costs the progress figure.
type listingPage struct {
	ArticleList []json.RawMessage `json:"articleList"`
	TotalCount  json.RawMessage   `json:"totalCount"`
}

type wireArticle struct {
	ArticleNo        flexString `json:"articleNo"`
	TradeTypeName    string     `json:"tradeTypeName"`
	TradeTypeCode    string     `json:"tradeTypeCode"`
	DealOrWarrantPrc string     `json:"dealOrWarrantPrc"`
	AreaName         string     `json:"areaName"`
	Area1            flexString `json:"area1"`
	FloorInfo        string     `json:"floorInfo"`
	Direction        string     `json:"direction"`
	BuildingName     string     `json:"buildingName"`
	RealtorName      string     `json:"realtorName"`
	SameAddrCnt      flexString `json:"sameAddrCnt"`
}

type wireCollection struct {
	ComplexNo           flexString `json:"complexNo"`
	ComplexName         string     `json:"complexName"`
	TotalHouseHoldCount flexString `json:"totalHouseHoldCount"`
	RoadAddress         string     `json:"roadAddress"`
	Address             string     `json:"address"`
}

func (a *Aggregator) ingestListingPage(payload json.RawMessage) {
	var page listingPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return
	}
	a.pages++
	var total flexString
	if err := json.Unmarshal(page.TotalCount, &total); err == nil {
		if n, ok := total.Int(); ok {
			a.reportedTotal = n
		}
	}

	for _, raw := range page.ArticleList {
		var art wireArticle
		if err := json.Unmarshal(raw, &art); err != nil {
			continue
		}
		id := string(art.ArticleNo)
		if id == "" {
			continue
		}
		if _, seen := a.records[id]; seen {
			continue
		}

		area, _ := strconv.ParseFloat(string(art.Area1), 64)
		sameAddr, ok := art.SameAddrCnt.Int()
		if !ok {
			sameAddr = 1
		}

		a.records[id] = models.ListingRecord{
			ID:            id,
			CollectionID:  a.collectionID,
			TradeType:     NormaliseTradeType(art.TradeTypeName, art.TradeTypeCode),
			PriceRaw:      art.DealOrWarrantPrc,
			AreaLabel:     art.AreaName,
			AreaPrimary:   area,
			FloorLabel:    art.FloorInfo,
			Direction:     art.Direction,
			BuildingLabel: art.BuildingName,
			BrokerLabel:   art.RealtorName,
			SameAddrCount: sameAddr,
		}
		a.order = append(a.order, id)
		a.freshSince++
	}
}

func (a *Aggregator) ingestMetadata(payload json.RawMessage) {
	var wc wireCollection
	if err := json.Unmarshal(payload, &wc); err != nil {
		return
	}
	if a.collection == nil {
		a.collection = &models.Collection{ID: a.collectionID}
	}
	if a.collection.Name == "" {
		a.collection.Name = wc.ComplexName
	}
	if a.collection.Households == 0 {
		a.collection.Households, _ = wc.TotalHouseHoldCount.Int()
	}
	if a.collection.Address == "" {
		a.collection.Address = firstNonEmpty(wc.RoadAddress, wc.Address)
	}
}

type transactionPage struct {
	RealPrice json.RawMessage `json:"realPrice"`
}

type wireTransaction struct {
	TradeType          string     `json:"tradeType"`
	TradeYear          flexString `json:"tradeYear"`
	TradeMonth         flexString `json:"tradeMonth"`
	TradeDate          flexString `json:"tradeDate"`
	DealPrice          flexString `json:"dealPrice"`
	FormattedPrice     string     `json:"formattedPrice"`
	Floor              flexString `json:"floor"`
	RepresentativeArea flexString `json:"representativeArea"`
	ExclusiveArea      flexString `json:"exclusiveArea"`
}

// ingestTransactions accepts realPrice as a single object or an array.
// Entries without a deal price are dropped.
func (a *Aggregator) ingestTransactions(payload json.RawMessage) {
	var page transactionPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return
	}

	raw := bytes.TrimSpace(page.RealPrice)
	var items []json.RawMessage
	switch {
	case len(raw) == 0:
		return
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
	default:
		items = []json.RawMessage{raw}
	}

	for _, item := range items {
		var wt wireTransaction
		if err := json.Unmarshal(item, &wt); err != nil {
			continue
		}
		price, err := strconv.ParseInt(string(wt.DealPrice), 10, 64)
		if err != nil || price <= 0 {
			continue
		}
		floor, _ := wt.Floor.Int()
		area, _ := strconv.ParseFloat(string(wt.RepresentativeArea), 64)
		exclusive, _ := strconv.ParseFloat(string(wt.ExclusiveArea), 64)

		tx := models.Transaction{
			CollectionID:   a.collectionID,
			TradeType:      NormaliseTradeType("", firstNonEmpty(wt.TradeType, "A1")),
			TradeDate:      tradeDate(wt.TradeYear, wt.TradeMonth, wt.TradeDate),
			DealPrice:      price,
			FormattedPrice: wt.FormattedPrice,
			Floor:          floor,
			Area:           area,
			ExclusiveArea:  exclusive,
		}
		if _, seen := a.txSeen[tx.Key()]; seen {
			continue
		}
		a.txSeen[tx.Key()] = struct{}{}
		a.transactions = append(a.transactions, tx)
	}
}

// tradeDate renders YYYYMMDD, or "" unless all three parts are numeric.
func tradeDate(year, month, day flexString) string {
	y, okY := year.Int()
	m, okM := month.Int()
	d, okD := day.Int()
	if !okY || !okM || !okD {
		return ""
	}
	return fmt.Sprintf("%04d%02d%02d", y, m, d)
}

// NormaliseTradeType maps the marketplace trade type name or code onto one
// of the models.Trade* values.
func NormaliseTradeType(name, code string) string {
	switch strings.TrimSpace(name) {
	case "매매":
		return models.TradeSale
	case "전세":
		return models.TradeLease
	case "월세":
		return models.TradeMonthlyRent
	}
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "A1":
		return models.TradeSale
	case "B1":
		return models.TradeLease
	case "B2":
		return models.TradeMonthlyRent
	}
	return models.TradeOther
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// flexString accepts a JSON string or number and keeps its text form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) Int() (int, bool) {
	n, err := strconv.Atoi(string(f))
	if err != nil {
		return 0, false
	}
	return n, true
}
