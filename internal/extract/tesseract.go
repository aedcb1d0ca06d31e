package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

var imageMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/tiff": true,
}

// TesseractExtractor runs local OCR on raster documents. One gosseract
// client per extractor; Extract serializes access since the client is not
// safe for concurrent use.
type TesseractExtractor struct {
	mu     sync.Mutex
	client *gosseract.Client
	logger logger.Logger
}

func NewTesseractExtractor(log logger.Logger) (*TesseractExtractor, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("rus", "eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set tesseract languages: %w", err)
	}
	return &TesseractExtractor{client: client, logger: log}, nil
}

func (t *TesseractExtractor) CanProcess(mimeType string) bool {
	return imageMIMETypes[strings.ToLower(mimeType)]
}

func (t *TesseractExtractor) Provider() string { return "tesseract" }

func (t *TesseractExtractor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

func (t *TesseractExtractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	prepared, err := preprocessImage(data)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(prepared); err != nil {
		return nil, Permanent(fmt.Errorf("set image: %w", err))
	}

	text, err := t.client.Text()
	if err != nil {
		return nil, Transient(fmt.Errorf("tesseract recognition: %w", err))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Permanent(fmt.Errorf("no text recognized in image"))
	}

	return &Result{
		Text:       text,
		Confidence: scoreConfidence(text),
		Provider:   t.Provider(),
		Pages:      1,
	}, nil
}
