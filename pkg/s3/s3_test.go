package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/keystone_backend/config"
	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("auth error codes", func(t *testing.T) {
		for _, code := range []string{"AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken"} {
			err := classify(ctx, fmt.Errorf("put: %w", &smithy.GenericAPIError{Code: code, Message: "no"}))
			assert.ErrorIs(t, err, blob.ErrUnauthorized, code)
		}
	})

	t.Run("forbidden status", func(t *testing.T) {
		resp := &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusForbidden}},
			Err:      errors.New("forbidden"),
		}
		assert.ErrorIs(t, classify(ctx, resp), blob.ErrUnauthorized)
	})

	t.Run("deadline", func(t *testing.T) {
		err := classify(ctx, fmt.Errorf("put: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, blob.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		orig := &smithy.GenericAPIError{Code: "NoSuchBucket"}
		err := classify(ctx, orig)
		assert.NotErrorIs(t, err, blob.ErrUnauthorized)
		assert.NotErrorIs(t, err, blob.ErrTimeout)
	})
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), config.S3Config{})
	require.Error(t, err)

	st, err := New(context.Background(), config.S3Config{
		Bucket:        "leases",
		Region:        "us-east-1",
		Endpoint:      "http://localhost:9000",
		PublicBaseURL: "https://files.example.com/",
	})
	require.NoError(t, err)

	url, err := st.url(context.Background(), "leases/a/v1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/leases/a/v1.pdf", url)
}

func newTestStore(t *testing.T, publicBase string, h http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	st, err := New(context.Background(), config.S3Config{
		Bucket:           "leases",
		Region:           "us-east-1",
		Endpoint:         srv.URL,
		AccessKeyID:      "test",
		SecretAccessKey:  "test",
		PublicBaseURL:    publicBase,
		UploadTimeoutSec: 2,
	})
	require.NoError(t, err)
	return st
}

func TestStore_ReadByKey(t *testing.T) {
	st := newTestStore(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/leases/leases/a/v1.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 body"))
		case "/leases/leases/a/denied.pdf":
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	})
	ctx := context.Background()

	data, err := st.Read(ctx, "leases/a/v1.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 body"), data)

	_, err = st.Read(ctx, "leases/a/gone.pdf")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	_, err = st.Read(ctx, "leases/a/denied.pdf")
	assert.ErrorIs(t, err, blob.ErrUnauthorized)
}

func TestStore_LinkPresignsWithoutPublicBase(t *testing.T) {
	st := newTestStore(t, "", func(w http.ResponseWriter, r *http.Request) {})

	link, err := st.Link(context.Background(), "leases/a/v1.pdf")
	require.NoError(t, err)
	assert.True(t, strings.Contains(link, "/leases/leases/a/v1.pdf?"), link)
	assert.Contains(t, link, "X-Amz-Signature=")
	assert.Contains(t, link, "X-Amz-Expires=86400")

	public := newTestStore(t, "https://files.example.com", func(w http.ResponseWriter, r *http.Request) {})
	link, err = public.Link(context.Background(), "leases/a/v1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/leases/a/v1.pdf", link)
}
