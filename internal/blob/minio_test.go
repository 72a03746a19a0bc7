package blob

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateKey(t *testing.T) {
	assert.Equal(t, "templates/prj_1/tpl_1/offer.docx", TemplateKey("prj_1", "tpl_1", "offer.docx"))
	assert.Equal(t, "templates/default/tpl_1/offer.docx", TemplateKey("", "tpl_1", "../../offer.docx"))
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000/docs/templates/a.docx", objectURL("http://localhost:9000/", "docs", "/templates/a.docx"))
}

func TestMapErrorNotFound(t *testing.T) {
	err := mapError("k", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = mapError("k", errors.New("connection refused"))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping object storage integration test in short mode")
	}
	endpoint := os.Getenv("DOCMERGE_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("DOCMERGE_TEST_S3_ENDPOINT is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("DOCMERGE_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("DOCMERGE_TEST_S3_SECRET_KEY"),
		Bucket:    "docmerge-test",
	})
	require.NoError(t, err)

	key := TemplateKey("prj_1", "tpl_1", "offer.docx")
	url, err := store.Put(ctx, key, []byte("PK"), "")
	require.NoError(t, err)
	assert.Contains(t, url, key)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), data)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
