package sst

import (
	"errors"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

var (
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrUnknownResolution  = models.ErrUnknownResolution
	ErrTransferFailed     = errors.New("transfer failed")
	ErrFileNotFound       = errors.New("file not found")
	ErrMalformedGrid      = errors.New("malformed grid")
)
