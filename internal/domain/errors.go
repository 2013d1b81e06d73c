package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation               = errors.New("validation error")
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("conflict")
	ErrUnsupportedChannel       = errors.New("unsupported channel")
	ErrTemplateNotFound         = errors.New("template not found")
	ErrPreferenceDenied         = errors.New("preference denied")
	ErrPermanentProviderFailure = errors.New("permanent provider failure")
	ErrRetryExhausted           = errors.New("retry exhausted")
)

// ErrAlreadyProcessing is returned when another dispatch holds the notification.
var ErrAlreadyProcessing = fmt.Errorf("%w: already processing", ErrConflict)
