package services

import "errors"

var (
	ErrFileNotFound        = errors.New("file not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrParsingFailed       = errors.New("parsing failed")
	ErrValidationFailed    = errors.New("validation failed")
	ErrPersistenceFailed   = errors.New("persistence failed")
	ErrImportInProgress    = errors.New("an import is already in progress for this account")
	ErrImportCancelled     = errors.New("import cancelled")
	ErrDuplicateImport     = errors.New("file was already imported")
	ErrNoResumableSession  = errors.New("no resumable import session")
)
