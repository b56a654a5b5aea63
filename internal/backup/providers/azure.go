package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureOptions configures an Azure Blob Storage provider. A connection string
// takes precedence over the account name and key. Endpoint overrides the
// account's default blob service URL (e.g. Azurite).
type AzureOptions struct {
	Container        string
	Prefix           string
	Account          string
	Key              string
	ConnectionString string
	Endpoint         string
}

// NewAzureProvider builds a provider over an Azure Blob container.
func NewAzureProvider(opts AzureOptions) (*BucketProvider, error) {
	if opts.Container == "" {
		return nil, errors.New("azure container is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case opts.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(opts.ConnectionString, nil)
	case opts.Account != "" && opts.Key != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(opts.Account, opts.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid azure credentials: %w", err)
		}
		serviceURL := opts.Endpoint
		if serviceURL == "" {
			serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", opts.Account)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	default:
		return nil, errors.New("azure requires a connection string or an account name and key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return NewBucketProvider("azure", opts.Prefix, azureStore{client: client, container: opts.Container}), nil
}

type azureStore struct {
	client    *azblob.Client
	container string
}

func (a azureStore) Put(ctx context.Context, key string, body io.Reader) error {
	_, err := a.client.UploadStream(ctx, a.container, key, body, nil)
	return err
}

func (a azureStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a azureStore) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, key, nil)
	return err
}

func (a azureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item != nil && item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}
