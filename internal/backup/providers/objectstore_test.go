package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGCSProviderRequiresBucket(t *testing.T) {
	_, err := NewGCSProvider(context.Background(), GCSOptions{})
	assert.ErrorContains(t, err, "bucket is required")
}

func TestNewGCSProviderEmulatorEndpoint(t *testing.T) {
	p, err := NewGCSProvider(context.Background(), GCSOptions{
		Bucket:   "worlds",
		Prefix:   "odin",
		Endpoint: "http://127.0.0.1:4443/storage/v1/",
	})
	require.NoError(t, err)
	assert.Equal(t, "gcs", p.kind)
	assert.Equal(t, "odin", p.prefix)
}

func TestNewAzureProvider(t *testing.T) {
	_, err := NewAzureProvider(AzureOptions{Account: "odin", Key: "a2V5"})
	assert.ErrorContains(t, err, "container is required")

	_, err = NewAzureProvider(AzureOptions{Container: "worlds", Account: "odin"})
	assert.ErrorContains(t, err, "connection string or an account name and key")

	_, err = NewAzureProvider(AzureOptions{Container: "worlds", Account: "odin", Key: "not base64!"})
	assert.ErrorContains(t, err, "invalid azure credentials")

	p, err := NewAzureProvider(AzureOptions{
		Container: "worlds",
		Prefix:    "/odin/",
		Account:   "odin",
		Key:       "a2V5",
		Endpoint:  "http://127.0.0.1:10000/odin/",
	})
	require.NoError(t, err)
	assert.Equal(t, "azure", p.kind)
	assert.Equal(t, "odin", p.prefix)
}

func TestNewB2ProviderRequiresCredentials(t *testing.T) {
	_, err := NewB2Provider(context.Background(), B2Options{KeyID: "id", ApplicationKey: "key"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewB2Provider(context.Background(), B2Options{Bucket: "worlds", KeyID: "id"})
	assert.ErrorContains(t, err, "key id and application key")
}

func TestNewProviderKinds(t *testing.T) {
	p, err := New(context.Background(), Options{Kind: "ftp"})
	assert.ErrorContains(t, err, "use local, s3, gcs, azure, b2")
	assert.Nil(t, p)

	p, err = New(context.Background(), Options{Kind: "AZURE", AzureContainer: "worlds"})
	require.Error(t, err)
	assert.Nil(t, p, "a failed constructor yields a nil interface")

	p, err = New(context.Background(), Options{
		Kind:           KindAzure,
		Location:       "odin",
		AzureContainer: "worlds",
		AzureAccount:   "odin",
		AzureKey:       "a2V5",
	})
	require.NoError(t, err)
	assert.IsType(t, &BucketProvider{}, p)
}
