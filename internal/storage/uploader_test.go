package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	key         string
	contentType string
	body        []byte
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func newTestUploader(t *testing.T) (*Uploader, *fakeBucket) {
	t.Helper()
	u, err := NewUploader(Config{
		Region:        "eu-central-1",
		AccessKey:     "a",
		SecretKey:     "s",
		Bucket:        "smachno",
		PublicBaseURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)
	bucket := &fakeBucket{}
	u.client = bucket
	return u, bucket
}

func TestNewUploaderValidates(t *testing.T) {
	_, err := NewUploader(Config{Region: "x", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn"})
	assert.Error(t, err)
	_, err = NewUploader(Config{Bucket: "b", Region: "x", AccessKey: "a", SecretKey: "s"})
	assert.Error(t, err)
}

func TestUploadBuildsPublicURL(t *testing.T) {
	u, bucket := newTestUploader(t)

	got, err := u.Upload(testContext(t), "generated", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(bucket.key, "creatives/generated/"), bucket.key)
	assert.True(t, strings.HasSuffix(bucket.key, ".png"))
	assert.Equal(t, "https://cdn.example.com/"+bucket.key, got)
	assert.Equal(t, []byte("png-bytes"), bucket.body)

	_, err = u.Upload(testContext(t), "generated", nil, "image/png")
	assert.Error(t, err)
}

func TestUploadFromURLCopiesImage(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	}))
	defer src.Close()
	u, bucket := newTestUploader(t)

	got, err := u.UploadFromURL(testContext(t), "originals", src.URL+"/file.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", bucket.contentType)
	assert.True(t, strings.HasSuffix(got, ".jpg"))
}

func TestUploadFromURLRejectsFailedDownload(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer src.Close()
	u, _ := newTestUploader(t)

	_, err := u.UploadFromURL(testContext(t), "originals", src.URL)
	assert.Error(t, err)
}

// testContext stands in for testing.T.Context (Go 1.24+): the returned
// context is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
