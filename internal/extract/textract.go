package extract

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	cfg "github.com/esg-lite/emissions-pipeline/config"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

// TextractExtractor sends raster documents to AWS Textract. Used instead of
// local Tesseract when configured; Textract returns per-line confidence.
type TextractExtractor struct {
	client *textract.Client
	logger logger.Logger
}

func NewTextractExtractor(ctx context.Context, tc cfg.TextractConfig, log logger.Logger) (*TextractExtractor, error) {
	creds := credentials.NewStaticCredentialsProvider(tc.AccessKey, tc.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(tc.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &TextractExtractor{
		client: textract.NewFromConfig(awsCfg),
		logger: log,
	}, nil
}

func (t *TextractExtractor) CanProcess(mimeType string) bool {
	return imageMIMETypes[strings.ToLower(mimeType)]
}

func (t *TextractExtractor) Provider() string { return "textract" }

func (t *TextractExtractor) Close() error { return nil }

func (t *TextractExtractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	out, err := t.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		// API-side failures (throttling, timeouts) are worth a retry.
		return nil, Transient(fmt.Errorf("textract detect: %w", err))
	}

	var lines []string
	var confSum float64
	var confCount int
	for _, block := range out.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		lines = append(lines, *block.Text)
		if block.Confidence != nil {
			confSum += float64(*block.Confidence)
			confCount++
		}
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return nil, Permanent(fmt.Errorf("no text detected in document"))
	}

	confidence := 0.5
	if confCount > 0 {
		confidence = confSum / float64(confCount) / 100
	}

	return &Result{
		Text:       text,
		Confidence: confidence,
		Provider:   t.Provider(),
		Pages:      1,
	}, nil
}
