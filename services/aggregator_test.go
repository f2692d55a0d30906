package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complex-watch/models"
)

const listingURL = "https://land.example/api/articles/complex/8928?page=1"

// pagePayload builds an articleList payload from id/price pairs.
func pagePayload(total int, pairs ...string) json.RawMessage {
	var items []string
	for i := 0; i+1 < len(pairs); i += 2 {
		items = append(items, fmt.Sprintf(
			`{"articleNo":%q,"tradeTypeName":"매매","dealOrWarrantPrc":%q,"areaName":"112A","area1":112,"floorInfo":"12/25","direction":"남향","buildingName":"101동","realtorName":"Good Realty","sameAddrCnt":2}`,
			pairs[i], pairs[i+1]))
	}
	return json.RawMessage(fmt.Sprintf(`{"isMoreData":true,"totalCount":%d,"articleList":[%s]}`, total, strings.Join(items, ",")))
}

func ids(records []models.ListingRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestAggregatorMapsListingFields(t *testing.T) {
	agg := NewAggregator("8928", "gen-1")
	agg.Ingest(models.KindListingPage, pagePayload(1, "A1", "12억 5,000"), listingURL)

	records := agg.Finalize()
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "A1", r.ID)
	assert.Equal(t, "8928", r.CollectionID)
	assert.Equal(t, models.TradeSale, r.TradeType)
	assert.Equal(t, "12억 5,000", r.PriceRaw)
	assert.Equal(t, "112A", r.AreaLabel)
	assert.Equal(t, 112.0, r.AreaPrimary)
	assert.Equal(t, "12/25", r.FloorLabel)
	assert.Equal(t, "남향", r.Direction)
	assert.Equal(t, "101동", r.BuildingLabel)
	assert.Equal(t, "Good Realty", r.BrokerLabel)
	assert.Equal(t, 2, r.SameAddrCount)
}

func TestAggregatorIdempotentMerge(t *testing.T) {
	page := pagePayload(3, "1", "10억", "2", "5억", "3", "3억")

	once := NewAggregator("c", "g")
	once.Ingest(models.KindListingPage, page, listingURL)

	twice := NewAggregator("c", "g")
	twice.Ingest(models.KindListingPage, page, listingURL)
	twice.Ingest(models.KindListingPage, page, listingURL)

	assert.Equal(t, once.Finalize(), twice.Finalize())
}

func TestAggregatorFirstSeenWins(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindListingPage, pagePayload(2, "1", "10억"), listingURL)
	agg.Ingest(models.KindListingPage, pagePayload(2, "1", "9억", "2", "5억"), listingURL)

	records := agg.Finalize()
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "2"}, ids(records))
	assert.Equal(t, "10억", records[0].PriceRaw)
}

func TestAggregatorNumericIDs(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindListingPage, json.RawMessage(`{"articleList":[{"articleNo":2401,"dealOrWarrantPrc":"1억"},{"articleNo":"2401","dealOrWarrantPrc":"2억"}]}`), listingURL)

	records := agg.Finalize()
	require.Len(t, records, 1)
	assert.Equal(t, "2401", records[0].ID)
	assert.Equal(t, "1억", records[0].PriceRaw)
}

func TestAggregatorSkipsMalformedEntries(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindListingPage, json.RawMessage(`{"articleList":[{"articleNo":""},{"articleNo":{"x":1}},"junk",{"articleNo":"ok","dealOrWarrantPrc":"1억"}]}`), listingURL)
	agg.Ingest(models.KindListingPage, json.RawMessage(`{"articleList":"nope"}`), listingURL)

	assert.Equal(t, []string{"ok"}, ids(agg.Finalize()))
}

func TestAggregatorIgnoresOtherKinds(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindTransactionPage, pagePayload(1, "1", "1억"), listingURL)
	agg.Ingest(models.KindUnrecognized, pagePayload(1, "2", "1억"), listingURL)

	assert.Empty(t, agg.Finalize())
	assert.Empty(t, agg.Transactions())
}

func TestAggregatorOddTotalCountKeepsRecords(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindListingPage, json.RawMessage(`{"totalCount":{"x":1},"articleList":[{"articleNo":"1","dealOrWarrantPrc":"1억"}]}`), listingURL)
	agg.Ingest(models.KindListingPage, json.RawMessage(`{"totalCount":"n/a","articleList":[{"articleNo":"2","dealOrWarrantPrc":"2억"}]}`), listingURL)

	assert.Equal(t, []string{"1", "2"}, ids(agg.Finalize()))
	collected, reported := agg.Progress()
	assert.Equal(t, 2, collected)
	assert.Zero(t, reported)
	assert.Equal(t, 2, agg.Pages())
}

const pricesURL = "https://land.example/api/complexes/8928/prices/real"

func TestAggregatorTransactionObject(t *testing.T) {
	agg := NewAggregator("8928", "g")
	agg.Ingest(models.KindTransactionPage, json.RawMessage(`{"realPrice":{"tradeType":"A1","tradeYear":"2026","tradeMonth":9,"tradeDate":3,"dealPrice":104000,"formattedPrice":"10억 4,000","floor":"12","representativeArea":112,"exclusiveArea":"84.97"}}`), pricesURL)

	txs := agg.Transactions()
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, "8928", tx.CollectionID)
	assert.Equal(t, models.TradeSale, tx.TradeType)
	assert.Equal(t, "20260903", tx.TradeDate)
	assert.Equal(t, int64(104000), tx.DealPrice)
	assert.Equal(t, "10억 4,000", tx.FormattedPrice)
	assert.Equal(t, 12, tx.Floor)
	assert.Equal(t, 112.0, tx.Area)
	assert.InDelta(t, 84.97, tx.ExclusiveArea, 0.001)
	assert.Empty(t, agg.Finalize(), "transactions are not listings")
}

func TestAggregatorTransactionList(t *testing.T) {
	agg := NewAggregator("8928", "g")
	page := json.RawMessage(`{"realPrice":[
		{"tradeYear":2026,"tradeMonth":8,"tradeDate":21,"dealPrice":98000,"floor":7},
		{"tradeYear":2026,"tradeMonth":8,"tradeDate":21,"dealPrice":98000,"floor":7},
		{"tradeType":"B1","tradeYear":2026,"tradeMonth":8,"dealPrice":"61000","floor":3},
		{"tradeYear":2026,"tradeMonth":8,"tradeDate":2,"floor":9},
		{"tradeYear":2026,"tradeMonth":8,"tradeDate":2,"dealPrice":"없음"},
		"junk"
	]}`)
	agg.Ingest(models.KindTransactionPage, page, pricesURL)
	agg.Ingest(models.KindTransactionPage, page, pricesURL)

	txs := agg.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, "20260821", txs[0].TradeDate)
	assert.Equal(t, models.TradeSale, txs[0].TradeType, "missing trade type defaults to sale")
	assert.Equal(t, models.TradeLease, txs[1].TradeType)
	assert.Empty(t, txs[1].TradeDate, "incomplete dates stay unknown")
	assert.Equal(t, int64(61000), txs[1].DealPrice)

	txs[0].DealPrice = 1
	assert.Equal(t, int64(98000), agg.Transactions()[0].DealPrice, "callers get a copy")
}

func TestAggregatorTransactionMissingRealPrice(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindTransactionPage, json.RawMessage(`{"realPrice":null}`), pricesURL)
	agg.Ingest(models.KindTransactionPage, json.RawMessage(`{"realPrice":"x"}`), pricesURL)
	agg.Ingest(models.KindTransactionPage, json.RawMessage(`not json`), pricesURL)

	assert.Empty(t, agg.Transactions())
}

func TestAggregatorProgress(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindListingPage, pagePayload(40, "1", "1억", "2", "2억"), listingURL)

	collected, reported := agg.Progress()
	assert.Equal(t, 2, collected)
	assert.Equal(t, 40, reported)
	assert.Equal(t, 1, agg.Pages())
}

func TestAggregatorCollectionMetadata(t *testing.T) {
	agg := NewAggregator("8928", "g")
	agg.Ingest(models.KindCollectionMetadata, json.RawMessage(`{"complexNo":"8928","complexName":"Lake Park","totalHouseHoldCount":1200}`), "https://land.example/api/complexes/8928")
	agg.Ingest(models.KindCollectionMetadata, json.RawMessage(`{"complexNo":"8928","complexName":"Other","roadAddress":"1 Lake Road"}`), "https://land.example/api/complexes/overview/8928")

	c := agg.Collection()
	require.NotNil(t, c)
	assert.Equal(t, "8928", c.ID)
	assert.Equal(t, "Lake Park", c.Name)
	assert.Equal(t, 1200, c.Households)
	assert.Equal(t, "1 Lake Road", c.Address)
}

func TestAggregatorStallTermination(t *testing.T) {
	agg := NewAggregator("c", "g")

	for i := 1; i <= 4; i++ {
		assert.True(t, agg.ShouldContinue(false), "call %d should continue", i)
	}
	assert.False(t, agg.ShouldContinue(false), "5th stalled call must stop the session")
	assert.False(t, agg.ShouldContinue(true), "a finished session stays finished")
}

func TestAggregatorNewRecordsResetStall(t *testing.T) {
	agg := NewAggregator("c", "g")

	for i := 0; i < 4; i++ {
		require.True(t, agg.ShouldContinue(false))
	}
	agg.Ingest(models.KindListingPage, pagePayload(1, "1", "1억"), listingURL)

	for i := 0; i < 4; i++ {
		assert.True(t, agg.ShouldContinue(false), "stall counter should restart after new records")
	}
	assert.False(t, agg.ShouldContinue(false))
}

func TestAggregatorDuplicatePagesDoNotResetStall(t *testing.T) {
	agg := NewAggregator("c", "g")
	page := pagePayload(1, "1", "1억")
	agg.Ingest(models.KindListingPage, page, listingURL)
	require.True(t, agg.ShouldContinue(false))

	stopped := false
	for i := 0; i < 5; i++ {
		agg.Ingest(models.KindListingPage, page, listingURL)
		if !agg.ShouldContinue(false) {
			stopped = true
			break
		}
	}
	assert.True(t, stopped, "re-sent pages without new ids must not keep the session alive")
}

func TestAggregatorAttemptCap(t *testing.T) {
	agg := NewAggregator("c", "g")

	calls := 0
	for agg.ShouldContinue(true) {
		calls++
		require.Less(t, calls, 1000, "attempt cap not enforced")
	}
	assert.Equal(t, DefaultMaxAttempts, agg.Attempts())
}

func TestAggregatorCustomLimits(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.SetLimits(2, 0)

	assert.True(t, agg.ShouldContinue(false))
	assert.False(t, agg.ShouldContinue(false))
}

func TestAggregatorFinalizeIdempotent(t *testing.T) {
	agg := NewAggregator("c", "g")
	agg.Ingest(models.KindListingPage, pagePayload(2, "1", "1억", "2", "2억"), listingURL)

	first := agg.Finalize()
	agg.Ingest(models.KindListingPage, pagePayload(3, "3", "3억"), listingURL)
	first[0].PriceRaw = "mutated"
	second := agg.Finalize()

	assert.Equal(t, []string{"1", "2"}, ids(second))
	assert.Equal(t, "1억", second[0].PriceRaw, "callers must not be able to mutate the frozen set")
}

func TestAggregatorEmptySession(t *testing.T) {
	agg := NewAggregator("c", "g")

	records := agg.Finalize()
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestNormaliseTradeType(t *testing.T) {
	tests := []struct {
		name, code, want string
	}{
		{"매매", "", models.TradeSale},
		{"전세", "", models.TradeLease},
		{"월세", "", models.TradeMonthlyRent},
		{"", "a1", models.TradeSale},
		{"", "B1", models.TradeLease},
		{"", "B2", models.TradeMonthlyRent},
		{"단기임대", "B3", models.TradeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormaliseTradeType(tt.name, tt.code), "NormaliseTradeType(%q, %q)", tt.name, tt.code)
	}
}
