// Package providers implements the storage backends backups are written to.
package providers

import (
	"context"
	"fmt"
	"strings"
)

// Provider stores backup objects addressed by slash-separated remote paths.
// Remote paths ending in ".gz" are stored gzip-compressed.
type Provider interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, remotePath string) error
}

// Provider kinds accepted by New.
const (
	KindLocal = "local"
	KindS3    = "s3"
	KindGCS   = "gcs"
	KindAzure = "azure"
	KindB2    = "b2"
)

// Kinds lists every provider kind New can build.
var Kinds = []string{KindLocal, KindS3, KindGCS, KindAzure, KindB2}

// Options configures a provider built by New. Location is the base directory
// for local backups and the key prefix for the object stores.
type Options struct {
	Kind     string
	Location string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3KeyID    string
	S3Secret   string

	GCSBucket          string
	GCSCredentialsFile string
	GCSEndpoint        string

	AzureContainer        string
	AzureAccount          string
	AzureKey              string
	AzureConnectionString string
	AzureEndpoint         string

	B2Bucket string
	B2KeyID  string
	B2AppKey string
}

// New builds the provider named by opts.Kind. An empty kind means local.
func New(ctx context.Context, opts Options) (Provider, error) {
	switch strings.ToLower(opts.Kind) {
	case "", KindLocal:
		if opts.Location == "" {
			return nil, fmt.Errorf("local backup provider requires a location")
		}
		return NewLocalProvider(opts.Location), nil
	case KindS3:
		return orNil(NewS3Provider(ctx, S3Options{
			Bucket:   opts.S3Bucket,
			Region:   opts.S3Region,
			Endpoint: opts.S3Endpoint,
			Prefix:   opts.Location,

			AccessKeyID:     opts.S3KeyID,
			SecretAccessKey: opts.S3Secret,
		}))
	case KindGCS:
		return orNil(NewGCSProvider(ctx, GCSOptions{
			Bucket:          opts.GCSBucket,
			Prefix:          opts.Location,
			CredentialsFile: opts.GCSCredentialsFile,
			Endpoint:        opts.GCSEndpoint,
		}))
	case KindAzure:
		return orNil(NewAzureProvider(AzureOptions{
			Container:        opts.AzureContainer,
			Prefix:           opts.Location,
			Account:          opts.AzureAccount,
			Key:              opts.AzureKey,
			ConnectionString: opts.AzureConnectionString,
			Endpoint:         opts.AzureEndpoint,
		}))
	case KindB2:
		return orNil(NewB2Provider(ctx, B2Options{
			Bucket:         opts.B2Bucket,
			Prefix:         opts.Location,
			KeyID:          opts.B2KeyID,
			ApplicationKey: opts.B2AppKey,
		}))
	default:
		return nil, fmt.Errorf("unknown backup provider %q (use %s)", opts.Kind, strings.Join(Kinds, ", "))
	}
}

// orNil keeps a failed constructor's typed nil pointer out of the Provider
// interface.
func orNil[P Provider](p P, err error) (Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
