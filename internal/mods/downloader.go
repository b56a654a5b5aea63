package mods

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"
)

type downloader struct {
	fs      afero.Fs
	fetcher Fetcher
}

// download fetches desc.SourceURL into the staging directory named by
// desc.Location and returns the descriptor of the downloaded file.
func (d downloader) download(ctx context.Context, desc Descriptor) (Descriptor, error) {
	stagingDir := desc.Location
	if info, err := d.fs.Stat(stagingDir); err != nil {
		return desc, &FilesystemError{Op: "stat staging directory", Dst: stagingDir, Err: err}
	} else if !info.IsDir() {
		return desc, &FilesystemError{Op: "stat staging directory", Dst: stagingDir, Err: errors.New("not a directory")}
	}

	original := desc.SourceURL
	if err := validateSourceURL(original); err != nil {
		return desc, err
	}

	log.Debug("downloading mod", "url", original, "fileType", desc.FileType)
	resp, err := d.fetcher.Get(ctx, original)
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return desc, err
		}
		return desc, &NetworkError{URL: original, Err: err}
	}
	defer resp.Body.Close()

	var dispositionName string
	if !desc.FileType.Supported() {
		// Share links often carry no extension; the redirect target usually does.
		final := original
		if resp.FinalURL != nil {
			final = resp.FinalURL.String()
		}
		log.Debug("using resolved url", "url", original, "resolved", final)
		desc.SourceURL = final
		desc.FileType = ClassifyURL(final)

		if !desc.FileType.Supported() {
			name, t := classifyContentDisposition(resp.ContentDisposition)
			if t.Supported() {
				dispositionName = name
				desc.FileType = t
			}
		}
		if !desc.FileType.Supported() {
			return desc, &UnsupportedTypeError{URL: final, FileType: desc.FileType}
		}
	}

	name := dispositionName
	if name == "" {
		name = stagedFileName(desc.SourceURL, original, desc.FileType)
	}
	target := filepath.Join(stagingDir, name)

	log.Debug("writing download", "path", target)
	out, err := d.fs.Create(target)
	if err != nil {
		return desc, &FilesystemError{Op: "create", Dst: target, Err: err}
	}
	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		d.fs.Remove(target)
		if copyErr != nil {
			return desc, &NetworkError{URL: desc.SourceURL, Err: copyErr}
		}
		return desc, &FilesystemError{Op: "write", Dst: target, Err: closeErr}
	}

	desc.Location = target
	return desc, nil
}

func validateSourceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &URLError{URL: raw, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &URLError{URL: raw, Err: fmt.Errorf("scheme must be http or https")}
	}
	if u.Host == "" {
		return &URLError{URL: raw, Err: fmt.Errorf("missing host")}
	}
	return nil
}
