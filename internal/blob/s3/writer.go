package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Writer implements domain.BlobWriter. Uploads go through the transfer
// manager, which accepts non-seekable readers and switches to multipart for
// large bodies.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter uploads into c's bucket, under prefix when it is not empty.
func NewWriter(c *Client, prefix string) *Writer {
	return newWriter(c.S3(), c.Bucket(), prefix)
}

func newWriter(api manager.UploadAPIClient, bucket, prefix string) *Writer {
	return &Writer{
		uploader: manager.NewUploader(api),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// Put uploads data to key (joined under the writer's prefix).
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	full := w.key(key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(full),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := w.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", full, err)
	}
	return nil
}

func (w *Writer) key(key string) string {
	key = strings.TrimLeft(key, "/")
	if w.prefix == "" {
		return key
	}
	return w.prefix + "/" + key
}

// ReportKey is where a run's report lives: <network>/<yyyy>/<mm>/<dd>/<run id>.json.
func ReportKey(network, runID string, started time.Time) string {
	return path.Join(strings.ToLower(network), started.UTC().Format("2006/01/02"), runID+".json")
}
