package config

import "errors"

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into Config.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrInvalidConfig is returned when a parsed Config fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
