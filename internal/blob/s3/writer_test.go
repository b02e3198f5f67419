package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

// fakeS3 accepts single-part uploads only.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	panic("multipart not expected")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	panic("multipart not expected")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	panic("multipart not expected")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	panic("multipart not expected")
}

func TestWriterPutUnderPrefix(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	w := newWriter(fake, "reports", "/runs/")

	require.NoError(t, w.Put(context.Background(), "/mainnet/r1.json", strings.NewReader(`{"ok":true}`), "application/json"))
	require.Equal(t, []byte(`{"ok":true}`), fake.objects["reports/runs/mainnet/r1.json"])
	require.Equal(t, "application/json", fake.types["runs/mainnet/r1.json"])

	bare := newWriter(fake, "reports", "")
	require.NoError(t, bare.Put(context.Background(), "a.txt", bytes.NewReader([]byte("x")), ""))
	require.Contains(t, fake.objects, "reports/a.txt")
}

func TestReportKey(t *testing.T) {
	started := time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	require.Equal(t, "mainnet/2026/03/05/abc.json", ReportKey("Mainnet", "abc", started))
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
