package filter

import (
	"fmt"
)

type SyntaxError struct {
	Position int
	Expected string
	Found    string
	Cause    error
}

func (e *SyntaxError) Error() string {
	message := fmt.Sprintf("filter syntax error at position %d: expected %s, found %s", e.Position, e.Expected, e.Found)
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *SyntaxError) Unwrap() error {
	return e.Cause
}
