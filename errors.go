package molbot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFitted is returned when a model is needed but
	// none has been fit or imported.
	ErrNotFitted = errors.New("model has not been fit or imported")

	// ErrMissingInput is returned when there is nothing to
	// train on or to continue from.
	ErrMissingInput = errors.New("no input strings given and no data stored")

	// ErrUnsupported is returned for operations which the
	// configured policy cannot perform.
	ErrUnsupported = errors.New("operation not supported by the policy")
)

// A ConfigError indicates an invalid hyper-parameter.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (c *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", c.Field, c.Value, c.Reason)
}
