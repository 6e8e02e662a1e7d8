package models

import "errors"

var (
	// ErrInvalidImage is returned when bytes cannot be decoded as a supported image.
	ErrInvalidImage = errors.New("file could not be identified as an image")

	// ErrJobNotFound is returned when a job id is absent from the queried partition.
	ErrJobNotFound = errors.New("job not found")
)
