package pipeline

import "errors"

var (
	errNilConfig = errors.New("config is nil")
	errNoSecrets = errors.New("no secret store configured")
	errNoStore   = errors.New("no object store configured")
)
