package statestore

import "github.com/cheolwanpark/meows-archive/collector/internal/errs"

func errInvalid(field, reason string) error {
	return errs.NewInvalidInput(field, reason)
}
