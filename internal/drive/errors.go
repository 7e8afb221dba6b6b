package drive

import "errors"

var (
	// ErrAuth means the credentials file is unusable or the user refused
	// the authorization flow.
	ErrAuth = errors.New("drive authorization failed")
	// ErrNotFound means a search matched no file.
	ErrNotFound = errors.New("drive file not found")
	// ErrAPI wraps transport and service failures of Drive calls.
	ErrAPI = errors.New("drive api error")
	// ErrInvalidName means a file name cannot be used as a local file name.
	ErrInvalidName = errors.New("invalid file name")
)
