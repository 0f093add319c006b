package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	calls  []string
	result miniogo.ListBucketResult
	err    error

	gotMaxKeys   int
	gotDelimiter string
}

func (f *fakeLister) ListObjects(bucket, prefix, marker, delimiter string, maxKeys int) (miniogo.ListBucketResult, error) {
	f.calls = append(f.calls, bucket+":"+prefix+"@"+marker)
	f.gotMaxKeys = maxKeys
	f.gotDelimiter = delimiter
	return f.result, f.err
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), &filestore.Config{AccessKey: "id", SecretKey: "key"})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = New(context.Background(), &filestore.Config{Region: "ap-shanghai"})
	assert.True(t, errs.IsInvalidInput(err))

	d, err := New(context.Background(), filestore.DefaultConfig("ap-shanghai", "id", "key"))
	require.NoError(t, err)
	assert.NoError(t, d.Close())
}

func TestDriver_ListPage(t *testing.T) {
	modified := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeLister{
		result: miniogo.ListBucketResult{
			CommonPrefixes: []miniogo.CommonPrefix{{Prefix: "img/icons/"}},
			Contents: []miniogo.ObjectInfo{
				{Key: "img/logo.png", Size: 2048, ETag: `"abc"`, LastModified: modified},
			},
			IsTruncated: true,
			NextMarker:  "img/logo.png",
		},
	}
	d := &Driver{lister: fake}

	page, err := d.ListPage(context.Background(), "assets", filestore.PageRequest{
		Prefix:    "img/",
		Delimiter: "/",
		Marker:    "img/a.png",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"assets:img/@img/a.png"}, fake.calls)
	assert.Equal(t, filestore.MaxPageKeys, fake.gotMaxKeys)
	assert.Equal(t, "/", fake.gotDelimiter)
	assert.Equal(t, []string{"img/icons/"}, page.CommonPrefixes)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "img/logo.png", page.Objects[0].Key)
	assert.Equal(t, int64(2048), page.Objects[0].Size)
	assert.Equal(t, "abc", page.Objects[0].ETag)
	assert.Equal(t, modified, page.Objects[0].LastModified)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, "img/logo.png", page.NextMarker)
}

func TestDriver_ListPage_CancelledContext(t *testing.T) {
	fake := &fakeLister{}
	d := &Driver{lister: fake}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.ListPage(ctx, "assets", filestore.PageRequest{})
	assert.True(t, errs.IsTimeout(err))
	assert.Empty(t, fake.calls)
}

func TestDriver_ListPage_MapsErrors(t *testing.T) {
	fake := &fakeLister{err: miniogo.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}}
	d := &Driver{lister: fake}

	_, err := d.ListPage(context.Background(), "assets", filestore.PageRequest{})
	assert.True(t, errs.IsPermissionDenied(err))
}

func TestToPage_MissingNextMarker(t *testing.T) {
	page := toPage(miniogo.ListBucketResult{
		CommonPrefixes: []miniogo.CommonPrefix{{Prefix: "b/"}},
		Contents:       []miniogo.ObjectInfo{{Key: "a.png", Size: 1}, {Key: "c.png", Size: 1}},
		IsTruncated:    true,
	})
	assert.Equal(t, "c.png", page.NextMarker)

	page = toPage(miniogo.ListBucketResult{
		CommonPrefixes: []miniogo.CommonPrefix{{Prefix: "z/"}},
		Contents:       []miniogo.ObjectInfo{{Key: "a.png", Size: 1}},
		IsTruncated:    true,
	})
	assert.Equal(t, "z/", page.NextMarker)

	page = toPage(miniogo.ListBucketResult{Contents: []miniogo.ObjectInfo{{Key: "a.png"}}})
	assert.Empty(t, page.NextMarker)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"no such bucket", miniogo.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, errs.ErrKindNotFound},
		{"signature", miniogo.ErrorResponse{Code: "SignatureDoesNotMatch", StatusCode: http.StatusForbidden}, errs.ErrKindPermissionDenied},
		{"slow down", miniogo.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, errs.ErrKindTimeout},
		{"bare 404", miniogo.ErrorResponse{StatusCode: http.StatusNotFound}, errs.ErrKindNotFound},
		{"server error", miniogo.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, errs.ErrKindQueryFailed},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.err, got.Cause)
		})
	}

	assert.Nil(t, mapError(nil, "op"))
}
