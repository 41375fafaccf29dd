package internal

import "time"

// ReferenceClient is one entry of the client catalog snapshot. Immutable once loaded.
type ReferenceClient struct {
	ID          string
	DisplayName string
	Email       string
	Phone       string
}

// ReferenceProduct is one entry of the product catalog snapshot. Immutable once loaded.
type ReferenceProduct struct {
	Code string
	Name string
}

// Signals is what the extractor pulls out of one email before any catalog lookup.
type Signals struct {
	Domains        []string
	CandidateCodes []string
	Quantities     map[string]int
	Descriptions   map[string]string
}

// MatchCandidate is a scored hypothesis that a piece of extracted text refers to
// a catalog entity. Score is an ordered ranking signal in [0,100], not a probability.
type MatchCandidate struct {
	EntityID string `json:"entityId"`
	Label    string `json:"label"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
	Quantity int    `json:"quantity,omitempty"`
	NotFound bool   `json:"notFound,omitempty"`
}

type MappingMethod string

type MappingStatus string

const (
	MethodExact     MappingMethod = "EXACT"
	MethodFuzzyName MappingMethod = "FUZZY_NAME"
	MethodManual    MappingMethod = "MANUAL"
	MethodPending   MappingMethod = "PENDING"

	StatusPending   MappingStatus = "PENDING"
	StatusValidated MappingStatus = "VALIDATED"
	StatusRejected  MappingStatus = "REJECTED"
)

// MappingRecord is a persisted correspondence between a supplier-side product code
// and an internal catalog code. Unique key is (ExternalCode, SupplierID).
// Status moves forward only: PENDING -> VALIDATED or PENDING -> REJECTED.
type MappingRecord struct {
	ExternalCode        string        `json:"externalCode"`
	ExternalDescription string        `json:"externalDescription"`
	SupplierID          string        `json:"supplierId"`
	InternalCode        string        `json:"internalCode"`
	Method              MappingMethod `json:"method"`
	Confidence          int           `json:"confidence"`
	Status              MappingStatus `json:"status"`
	UseCount            int           `json:"useCount"`
	CreatedAt           time.Time     `json:"createdAt"`
	LastUsedAt          time.Time     `json:"lastUsedAt"`
}

// Gate is the externally computed "is this email worth resolving" signal.
// The core only consumes it; the rule/LLM classification lives outside.
type Gate struct {
	ShouldResolve bool
	Confidence    float64
	Reason        string
}
