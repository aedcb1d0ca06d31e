package models

// ExtractionKind discriminates the heterogeneous extraction schemas. Using a
// tagged union instead of an open map keeps the aggregation fallback order
// exhaustively type-checked.
type ExtractionKind string

const (
	ExtractionTransport    ExtractionKind = "transport"
	ExtractionFlat         ExtractionKind = "flat"
	ExtractionUnrecognized ExtractionKind = "unrecognized"
)

// Extraction is the structured emissions payload pulled out of a document.
// Exactly one of the pointer fields matching Kind is set.
type Extraction struct {
	Kind      ExtractionKind       `json:"kind"`
	Transport *TransportExtraction `json:"transport,omitempty"`
	Flat      *FlatExtraction      `json:"flat,omitempty"`
}

// TransportExtraction mirrors the structured transport analysis schema.
type TransportExtraction struct {
	Analysis TransportAnalysis `json:"analysis"`
}

type TransportAnalysis struct {
	Emissions TransportEmissions `json:"emissions"`
}

type TransportEmissions struct {
	// CO2Emissions is reported in kilograms by the transport analyzer.
	CO2Emissions float64 `json:"co2Emissions"`
}

// FlatExtraction carries plain numeric emission fields, all in tonnes CO2e.
// Aggregation probes them in priority order: Emissions, CO2, Carbon.
type FlatExtraction struct {
	Emissions *float64 `json:"emissions,omitempty"`
	CO2       *float64 `json:"co2,omitempty"`
	Carbon    *float64 `json:"carbon,omitempty"`
}

// NewTransportExtraction builds a transport-kind payload from a kilogram figure.
func NewTransportExtraction(co2Kg float64) *Extraction {
	return &Extraction{
		Kind: ExtractionTransport,
		Transport: &TransportExtraction{
			Analysis: TransportAnalysis{
				Emissions: TransportEmissions{CO2Emissions: co2Kg},
			},
		},
	}
}

// NewFlatExtraction builds a flat-kind payload.
func NewFlatExtraction(flat FlatExtraction) *Extraction {
	return &Extraction{Kind: ExtractionFlat, Flat: &flat}
}

// NewUnrecognizedExtraction marks a document whose text yielded no emission data.
func NewUnrecognizedExtraction() *Extraction {
	return &Extraction{Kind: ExtractionUnrecognized}
}
