package decoder

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every error returned from Decode.
var ErrDecode = errors.New("decode location payload")

// Kind classifies a decode failure.
type Kind string

const (
	KindMalformed    Kind = "malformed"
	KindMissingField Kind = "missing_field"
	KindInvalid      Kind = "invalid"
)

// DecodeError describes why a payload was rejected.
type DecodeError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s field %q: %v", ErrDecode, e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %s field %q", ErrDecode, e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", ErrDecode, e.Kind)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
