package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"complex-watch/models"
	"complex-watch/utils"
)

func TestDigestPrinterRendersSections(t *testing.T) {
	up := change("2", models.ChangePriceUp, 2000, 4)
	up.OldPriceRaw, up.NewPriceRaw = "5억", "5억 2,000"
	up.BuildingLabel = "102동"
	added := change("3", models.ChangeNew, 0, 0)
	added.NewPriceRaw = "3억"
	changes := []models.ChangeRecord{added, up}

	var buf bytes.Buffer
	NewDigestPrinter(utils.NewNopLogger()).WithWriter(&buf).Print([]CollectionDigest{
		{CollectionID: "8928", Name: "Lake Park", Changes: changes, Summary: Summarize(changes), Unread: 2,
			Transactions: []models.Transaction{
				{TradeDate: "20260903", DealPrice: 104000, FormattedPrice: "10억 4,000", Floor: 12},
				{TradeDate: "20260821", DealPrice: 98000, Floor: 7},
			}},
		{CollectionID: "1111"},
	}, capturedA)

	out := buf.String()
	assert.NotContains(t, out, "\033[")
	assert.Contains(t, out, "Complex 8928 (Lake Park)")
	assert.Contains(t, out, "Deals        : 2, latest 20260903 10억 4,000 (12F)")
	assert.Contains(t, out, "New 1 | Removed 0 | Up 1 | Down 0 | Unread 2")
	assert.Contains(t, out, "Biggest move : 2 102동 5억 → 5억 2,000 (+4.00%)")
	assert.Contains(t, out, "[NEW]")
	assert.Contains(t, out, "(+2000, +4.00%)")
	assert.Contains(t, out, "Complex 1111")
	assert.Contains(t, out, "No changes in window")
	assert.NotContains(t, out, "Complex 1111 (")
}

func TestDealPriceFallsBackToAmount(t *testing.T) {
	assert.Equal(t, "98000만", dealPrice(models.Transaction{DealPrice: 98000}))
}

func TestDigestPrinterCapsRows(t *testing.T) {
	var changes []models.ChangeRecord
	for _, id := range strings.Split("a b c d e f g h i j k l m n o p q r", " ") {
		changes = append(changes, change(id, models.ChangeNew, 0, 0))
	}

	var buf bytes.Buffer
	NewDigestPrinter(utils.NewNopLogger()).WithWriter(&buf).Print([]CollectionDigest{
		{CollectionID: "8928", Changes: changes, Summary: Summarize(changes)},
	}, capturedA)

	assert.Contains(t, buf.String(), "... 3 more")
}

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "래미안...", truncate("래미안퍼스티지아파트", 6))
	assert.Equal(t, "short", truncate("short", 10))
}
