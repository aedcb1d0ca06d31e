package extract

import (
	"context"
	"fmt"
	"strings"

	cfg "github.com/esg-lite/emissions-pipeline/config"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

// Factory routes documents to an extractor by MIME type and enriches raw
// text with the structured field and INN parsers.
type Factory struct {
	extractors map[string]Extractor
	logger     logger.Logger
}

// NewFactory wires the provider set: the PDF text reader always, and either
// Textract (when configured) or local Tesseract for raster documents.
func NewFactory(ctx context.Context, textractCfg cfg.TextractConfig, log logger.Logger) (*Factory, error) {
	f := &Factory{
		extractors: make(map[string]Extractor),
		logger:     log,
	}

	pdfEx := NewPDFExtractor(log)
	f.extractors["application/pdf"] = pdfEx

	var imageEx Extractor
	if textractCfg.Enabled {
		ex, err := NewTextractExtractor(ctx, textractCfg, log)
		if err != nil {
			return nil, fmt.Errorf("create textract extractor: %w", err)
		}
		imageEx = ex
	} else {
		ex, err := NewTesseractExtractor(log)
		if err != nil {
			return nil, fmt.Errorf("create tesseract extractor: %w", err)
		}
		imageEx = ex
	}
	for mime := range imageMIMETypes {
		f.extractors[mime] = imageEx
	}

	return f, nil
}

// ExtractDocument runs the matching provider and layers the emission field
// and INN parsing on top of its text output.
func (f *Factory) ExtractDocument(ctx context.Context, mimeType string, data []byte) (*Result, error) {
	ex, ok := f.extractors[strings.ToLower(mimeType)]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported mime type: %s", mimeType))
	}

	res, err := ex.Extract(ctx, data)
	if err != nil {
		return nil, err
	}

	res.Extraction = ParseEmissionFields(res.Text)
	res.INN = ParseINN(res.Text)

	return res, nil
}

// Close releases provider resources (the gosseract client holds a native
// handle).
func (f *Factory) Close() error {
	closed := make(map[Extractor]bool)
	var firstErr error
	for _, ex := range f.extractors {
		if closed[ex] {
			continue
		}
		closed[ex] = true
		if err := ex.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
