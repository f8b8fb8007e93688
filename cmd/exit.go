package cmd

import (
	"errors"
	"io/fs"

	"github.com/hurou927/xmlshred/internal/engine"
	"github.com/hurou927/xmlshred/internal/names"
	"github.com/hurou927/xmlshred/internal/source"
)

// Process exit codes.
const (
	exitOK           = 0
	exitPathNotFound = 3
	exitAccessDenied = 5
	exitInvalidData  = 13
	exitReadFault    = 30
	exitInitFailure  = 575
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		invalidName *names.InvalidNameError
		malformed   *engine.MalformedDocumentError
		conflict    *engine.SchemaConflictError
		txErr       *engine.TransactionError
		unavailable *source.UnavailableError
		pathErr     *fs.PathError
	)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return exitAccessDenied
	case errors.As(err, &invalidName), errors.As(err, &malformed),
		errors.As(err, &conflict), errors.As(err, &txErr):
		return exitInvalidData
	case errors.As(err, &unavailable), errors.Is(err, fs.ErrNotExist):
		return exitPathNotFound
	case errors.As(err, &pathErr):
		return exitReadFault
	}
	return exitInitFailure
}
