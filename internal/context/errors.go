package context

import "fmt"

// ErrInvalidEntry is returned when a request entry cannot be used.
type ErrInvalidEntry struct {
	Identifier string
	Field      string
	Message    string
}

func (e *ErrInvalidEntry) Error() string {
	if e.Identifier == "" {
		return fmt.Sprintf("invalid entry: %s - %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid entry %s: %s - %s", e.Identifier, e.Field, e.Message)
}
