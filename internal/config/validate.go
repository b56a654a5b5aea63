package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	minPasswordLength      = 5
	defaultDownloadTimeout = 300
)

// ErrPasswordTooShort is reported for a password the server would refuse.
var ErrPasswordTooShort = errors.New("password too short")

var knownBackupProviders = map[string]bool{
	"local": true,
	"s3":    true,
	"gcs":   true,
	"azure": true,
	"b2":    true,
}

// Validate checks the config for invalid values and returns all errors found.
// Values that have a safe replacement are clamped and reported as well.
// Logging the result is left to the caller.
func (c *Config) Validate() []error {
	var errs []error

	if c.Password != "" && len(c.Password) < minPasswordLength {
		errs = append(errs, fmt.Errorf("%w: password must be at least %d characters", ErrPasswordTooShort, minPasswordLength))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is outside 1-65535", c.Port))
	}

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("name must not be empty"))
	}

	if strings.TrimSpace(c.World) == "" {
		errs = append(errs, fmt.Errorf("world must not be empty"))
	}

	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook_url %q is not a valid URL: %w", c.WebhookURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("webhook_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	errs = append(errs, c.Backup.validate()...)

	if c.DownloadTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("download_timeout_seconds %d is not positive, clamping to %d", c.DownloadTimeoutSeconds, defaultDownloadTimeout))
		c.DownloadTimeoutSeconds = defaultDownloadTimeout
	}

	return errs
}

func (b *BackupConfig) validate() []error {
	var errs []error
	provider := strings.ToLower(b.Provider)
	switch provider {
	case "", "local":
	case "s3":
		if b.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("backup provider s3 requires backup.s3_bucket"))
		}
	case "gcs":
		if b.GCSBucket == "" {
			errs = append(errs, fmt.Errorf("backup provider gcs requires backup.gcs_bucket"))
		}
	case "azure":
		if b.AzureContainer == "" {
			errs = append(errs, fmt.Errorf("backup provider azure requires backup.azure_container"))
		}
		if b.AzureConnectionString == "" && (b.AzureAccount == "" || b.AzureKey == "") {
			errs = append(errs, fmt.Errorf("backup provider azure requires backup.azure_connection_string or backup.azure_account and backup.azure_key"))
		}
	case "b2":
		if b.B2Bucket == "" {
			errs = append(errs, fmt.Errorf("backup provider b2 requires backup.b2_bucket"))
		}
		if b.B2KeyID == "" || b.B2AppKey == "" {
			errs = append(errs, fmt.Errorf("backup provider b2 requires backup.b2_key_id and backup.b2_application_key"))
		}
	}
	if provider != "" && !knownBackupProviders[provider] {
		errs = append(errs, fmt.Errorf("unknown backup provider %q (use local, s3, gcs, azure or b2)", b.Provider))
	}

	if b.Retention < 0 {
		errs = append(errs, fmt.Errorf("backup retention %d is negative, clamping to 0", b.Retention))
		b.Retention = 0
	}
	return errs
}
