package model

import (
	"errors"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrRegistryClosed = errors.New("registry closed")
)
