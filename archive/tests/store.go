package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zuko/billingz/archive"
)

func RunStoreTests(t *testing.T, s archive.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s archive.Store){
		testUploadAndDownload,
		testDownloadMissingKey,
		testOverwriteUpload,
	} {
		tf(t, s)
		teardown()
	}
}

func testUploadAndDownload(t *testing.T, s archive.Store) {
	ctx := context.Background()

	key := archive.OrderKey("order-1")
	data := []byte(`{"requestStatus":"SUCCESSFUL"}`)

	require.NoError(t, s.Upload(ctx, key, data))

	retrieved, err := s.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, data, retrieved)
}

func testDownloadMissingKey(t *testing.T, s archive.Store) {
	data, err := s.Download(context.Background(), archive.OrderKey("missing"))
	require.Equal(t, archive.ErrNotFound, err)
	require.Nil(t, data)
}

func testOverwriteUpload(t *testing.T, s archive.Store) {
	ctx := context.Background()

	key := archive.OrderKey("order-2")
	require.NoError(t, s.Upload(ctx, key, []byte("first")))
	require.NoError(t, s.Upload(ctx, key, []byte("second")))

	retrieved, err := s.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), retrieved)
}
