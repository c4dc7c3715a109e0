package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnitNotFound = errors.New("processing unit not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrTemporary marks infrastructure faults the queue should redeliver.
	ErrTemporary = errors.New("temporary failure")
	// ErrPermanent marks poison messages and integrity violations that
	// redelivery cannot fix; the consumer dead-letters them.
	ErrPermanent = errors.New("permanent failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
