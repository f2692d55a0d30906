package models

// Kind tags a captured network response.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindCollectionMetadata
	KindListingPage
	KindTransactionPage
)

func (k Kind) String() string {
	switch k {
	case KindCollectionMetadata:
		return "collection-metadata"
	case KindListingPage:
		return "listing-page"
	case KindTransactionPage:
		return "transaction-page"
	default:
		return "unrecognized"
	}
}

// ResponseEvent is a network response delivered by the automation layer.
type ResponseEvent struct {
	SourceURL string
	Status    int
	Body      []byte
}
