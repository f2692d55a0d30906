package services

import (
	"encoding/json"
	"net/http"
	"strings"

	"complex-watch/models"
)

// Payload fields and URL fragments used to recognise marketplace responses.
const (
	fieldListingArray  = "articleList"
	fieldCollectionNo  = "complexNo"
	fieldRealPrice     = "realPrice"
	collectionURLToken = "/complexes/"
)

// DecodeEvent returns the JSON payload of a response event, or ok == false
// when the event is not a successful response carrying valid JSON.
func DecodeEvent(ev models.ResponseEvent) (json.RawMessage, bool) {
	if ev.Status != http.StatusOK || len(ev.Body) == 0 {
		return nil, false
	}
	if !json.Valid(ev.Body) {
		return nil, false
	}
	return json.RawMessage(ev.Body), true
}

// Classify tags a response payload. Rules are checked in order and the first
// match wins. Payloads that are not JSON objects are Unrecognized.
func Classify(url string, payload []byte) models.Kind {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return models.KindUnrecognized
	}

	if _, ok := fields[fieldListingArray]; ok {
		return models.KindListingPage
	}
	if _, ok := fields[fieldCollectionNo]; ok && strings.Contains(url, collectionURLToken) {
		return models.KindCollectionMetadata
	}
	if _, ok := fields[fieldRealPrice]; ok {
		return models.KindTransactionPage
	}
	return models.KindUnrecognized
}
