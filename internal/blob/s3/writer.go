package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantfall/tradegate/internal/domain"
)

const (
	archiveContentType = "application/x-ndjson"

	// multipartThreshold is the body size above which uploads switch to the
	// multipart upload manager. Typical monthly archives stay well under it
	// and take the single PutObject path.
	multipartThreshold = 8 << 20
)

// Writer uploads trade archives as newline-delimited JSON.
type Writer struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer targeting the client's archive bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c.s3,
		uploader: manager.NewUploader(c.s3),
		bucket:   c.bucket,
	}
}

// PutTrades encodes the trades as one JSON object per line and uploads the
// result to the given key.
func (w *Writer) PutTrades(ctx context.Context, path string, trades []domain.TradeRecord) error {
	body, err := encodeTrades(trades)
	if err != nil {
		return fmt.Errorf("s3blob: encode trades: %w", err)
	}
	if err := w.put(ctx, path, body); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

func (w *Writer) put(ctx context.Context, path string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(archiveContentType),
	}
	if len(body) >= multipartThreshold {
		_, err := w.uploader.Upload(ctx, input)
		return err
	}
	_, err := w.client.PutObject(ctx, input)
	return err
}

// encodeTrades serialises trades as newline-delimited JSON, one compact
// object per trade.
func encodeTrades(trades []domain.TradeRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, tr := range trades {
		if err := enc.Encode(tr); err != nil {
			return nil, fmt.Errorf("trade %d (%s): %w", i, tr.Symbol, err)
		}
	}
	return buf.Bytes(), nil
}
