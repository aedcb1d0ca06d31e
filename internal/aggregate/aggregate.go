package aggregate

import (
	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

// Contribution records the provenance of one document's share of a report.
type Contribution struct {
	DocumentID uuid.UUID               `json:"documentId"`
	FileName   string                  `json:"fileName,omitempty"`
	Category   models.DocumentCategory `json:"category"`
	Scope      int                     `json:"scope"`
	Tonnes     float64                 `json:"tonnes"`
	Source     string                  `json:"source"`
}

// Totals is the scope-bucketed aggregation result, in tonnes CO2e.
type Totals struct {
	Scope1            float64        `json:"scope1"`
	Scope2            float64        `json:"scope2"`
	Scope3            float64        `json:"scope3"`
	Total             float64        `json:"total"`
	ContributingCount int            `json:"contributingCount"`
	Contributions     []Contribution `json:"contributions"`
}

// Engine sums emission contributions from heterogeneous extraction schemas
// into scope-bucketed totals. The walk is deterministic: same input set,
// same totals, bit for bit.
type Engine struct {
	logger logger.Logger
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{logger: log}
}

// Aggregate walks the processed documents in the order given. Per document
// the extraction fallback order is strict and first-match-wins:
//
//  1. structured transport analysis, reported in kilograms, converted to tonnes
//  2. flat numeric fields: emissions, then co2, then carbon (already tonnes)
//  3. no data: zero contribution, logged rather than silently skipped
//
// Negative extracted values are clamped to zero and logged; malformed OCR
// output must not drag the totals down.
func (e *Engine) Aggregate(docs []models.Document) *Totals {
	totals := &Totals{Contributions: make([]Contribution, 0, len(docs))}

	for i := range docs {
		doc := &docs[i]

		tonnes, source, found := e.extract(doc)
		if !found {
			e.logger.Info("document has no emissions data, contributing zero",
				logger.String("documentId", doc.ID.String()),
				logger.String("category", string(doc.Category)),
			)
			continue
		}

		if tonnes < 0 {
			e.logger.Warn("negative emission value clamped to zero",
				logger.String("documentId", doc.ID.String()),
				logger.String("source", source),
				logger.Float64("value", tonnes),
			)
			tonnes = 0
		}

		scope := ScopeFor(doc.Category)
		switch scope {
		case 1:
			totals.Scope1 += tonnes
		case 2:
			totals.Scope2 += tonnes
		case 3:
			totals.Scope3 += tonnes
		}
		totals.ContributingCount++
		totals.Contributions = append(totals.Contributions, Contribution{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			Category:   doc.Category,
			Scope:      scope,
			Tonnes:     tonnes,
			Source:     source,
		})
	}

	totals.Total = totals.Scope1 + totals.Scope2 + totals.Scope3
	return totals
}

// extract pulls the emission figure for one document, honoring the fallback
// order. The returned source names the field that won, for provenance.
func (e *Engine) extract(doc *models.Document) (float64, string, bool) {
	data, err := models.UnmarshalOCRData(doc.OCRData)
	if err != nil {
		e.logger.Warn("unreadable ocr data during aggregation",
			logger.String("documentId", doc.ID.String()),
			logger.Error(err),
		)
		return 0, "", false
	}
	if data == nil || data.Extraction == nil {
		return 0, "", false
	}

	ext := data.Extraction
	if ext.Kind == models.ExtractionTransport && ext.Transport != nil {
		kg := ext.Transport.Analysis.Emissions.CO2Emissions
		return kg / 1000, "transport.analysis.emissions.co2Emissions", true
	}

	if ext.Kind == models.ExtractionFlat && ext.Flat != nil {
		switch {
		case ext.Flat.Emissions != nil:
			return *ext.Flat.Emissions, "emissions", true
		case ext.Flat.CO2 != nil:
			return *ext.Flat.CO2, "co2", true
		case ext.Flat.Carbon != nil:
			return *ext.Flat.Carbon, "carbon", true
		}
	}

	return 0, "", false
}

// ScopeFor buckets a document category into a GHG scope. Direct combustion
// and own-fleet transport are scope 1, purchased energy scope 2, the value
// chain scope 3.
func ScopeFor(category models.DocumentCategory) int {
	switch category {
	case models.CategoryProduction, models.CategoryTransport:
		return 1
	case models.CategoryEnergy:
		return 2
	default:
		return 3
	}
}
