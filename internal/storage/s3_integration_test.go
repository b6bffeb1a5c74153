//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/testutil"
)

func TestIntegration_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)
	defer rc.Terminate(ctx)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "agentkb-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	require.NoError(t, client.EnsureBucket(ctx))

	_, err = client.GetObject(ctx, "corpus/chunks.jsonl")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	src := NewSnapshotSource(client, "corpus/chunks.jsonl")
	chunks := []domain.Chunk{
		{ID: "pd-1", SourceID: "credit-glossary", Text: "PD is the likelihood of default.", Embedding: []float32{0.1, 0.2}},
		{ID: "kyc-1", SourceID: "kyc-policy", Text: "KYC is refreshed yearly for high risk customers."},
	}
	require.NoError(t, src.Write(ctx, chunks))

	meta, err := client.HeadObject(ctx, "corpus/chunks.jsonl")
	require.NoError(t, err)
	assert.Greater(t, meta.ContentLength, int64(0))

	loaded, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunks, loaded)
}
