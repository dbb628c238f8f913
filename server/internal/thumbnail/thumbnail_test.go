package thumbnail

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallyuwire/corehub/server/internal/fetch"
)

type fakeGetter struct {
	resp *fetch.Response
	err  error
}

func (f *fakeGetter) Fetch(ctx context.Context, rawURL string) (*fetch.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeUploader struct {
	calls int
	err   error
	key   string
}

func (u *fakeUploader) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	u.calls++
	if input.Key != nil {
		u.key = *input.Key
	}
	if u.err != nil {
		return nil, u.err
	}
	return &s3.PutObjectOutput{}, nil
}

func jpegBytes() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 100)...)
}

func TestS3Service_Store_UploadsAndReturnsPublicURL(t *testing.T) {
	uploader := &fakeUploader{}
	getter := &fakeGetter{resp: &fetch.Response{StatusCode: 200, Body: jpegBytes()}}
	svc := &S3Service{client: uploader, bucket: "corehub-thumbs", getter: getter}

	url, err := svc.Store(context.Background(), 42, "https://example.com/og.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://corehub-thumbs.s3.amazonaws.com/thumbnails/42.jpg", url)
	assert.Equal(t, 1, uploader.calls)
	assert.Equal(t, "thumbnails/42.jpg", uploader.key)
}

func TestS3Service_Store_UsesPublicBaseURLWhenConfigured(t *testing.T) {
	uploader := &fakeUploader{}
	getter := &fakeGetter{resp: &fetch.Response{StatusCode: 200, Body: jpegBytes()}}
	svc := &S3Service{client: uploader, bucket: "corehub-thumbs", publicBase: "https://cdn.example.com/", getter: getter}

	url, err := svc.Store(context.Background(), 7, "https://example.com/og.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/thumbnails/7.jpg", url)
}

func TestS3Service_Store_FetchFailureIsSurfaced(t *testing.T) {
	uploader := &fakeUploader{}
	getter := &fakeGetter{err: fmt.Errorf("network down")}
	svc := &S3Service{client: uploader, bucket: "corehub-thumbs", getter: getter}

	_, err := svc.Store(context.Background(), 1, "https://example.com/og.jpg")
	require.Error(t, err)
	assert.Equal(t, 0, uploader.calls)
}

func TestS3Service_Store_NonOKStatusFails(t *testing.T) {
	uploader := &fakeUploader{}
	getter := &fakeGetter{resp: &fetch.Response{StatusCode: 404, Body: []byte("not found")}}
	svc := &S3Service{client: uploader, bucket: "corehub-thumbs", getter: getter}

	_, err := svc.Store(context.Background(), 1, "https://example.com/missing.jpg")
	require.Error(t, err)
}

func TestS3Service_Store_UploadErrorIsWrapped(t *testing.T) {
	uploader := &fakeUploader{err: fmt.Errorf("access denied")}
	getter := &fakeGetter{resp: &fetch.Response{StatusCode: 200, Body: jpegBytes()}}
	svc := &S3Service{client: uploader, bucket: "corehub-thumbs", getter: getter}

	_, err := svc.Store(context.Background(), 1, "https://example.com/og.jpg")
	require.Error(t, err)
}

func TestKeyFor_UnknownContentTypeFallsBackToJPG(t *testing.T) {
	assert.Equal(t, "thumbnails/1.png", keyFor(1, "image/png"))
	assert.Equal(t, "thumbnails/1.jpg", keyFor(1, "application/octet-stream"))
}
