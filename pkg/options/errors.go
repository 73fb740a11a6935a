package options

import "errors"

// ErrEmptyName is returned when writing an option without a name.
var ErrEmptyName = errors.New("option name cannot be empty")
