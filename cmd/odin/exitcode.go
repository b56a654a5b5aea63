package main

import (
	"errors"

	"github.com/mbround18/valheim/internal/mods"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitBadInput   = 2
	exitNetwork    = 3
	exitFilesystem = 4
)

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		urlErr      *mods.URLError
		typeErr     *mods.UnsupportedTypeError
		netErr      *mods.NetworkError
		archiveErr  *mods.ArchiveError
		fsErr       *mods.FilesystemError
		checksumErr *mods.ChecksumError
	)
	switch {
	case errors.As(err, &urlErr), errors.As(err, &typeErr):
		return exitBadInput
	case errors.As(err, &netErr):
		return exitNetwork
	case errors.As(err, &archiveErr),
		errors.As(err, &fsErr),
		errors.As(err, &checksumErr),
		errors.Is(err, mods.ErrStagingIsDirectory):
		return exitFilesystem
	default:
		return exitFailure
	}
}
