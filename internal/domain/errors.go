package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOutOfStock        = errors.New("product is out of stock")
	ErrItemNotInCart     = errors.New("item not found in cart")
	ErrCartNotFound      = errors.New("cart not found")
	ErrMissingIdentity   = errors.New("request carries neither a user nor a session identity")
	ErrInvalidOwnerState = errors.New("cart has invalid owner state")
)

// InvalidOwnerStateError is returned when a stored cart has both owner fields
// set or neither. It matches ErrInvalidOwnerState with errors.Is.
type InvalidOwnerStateError struct {
	CartID     string
	HasUser    bool
	HasSession bool
}

func (e *InvalidOwnerStateError) Error() string {
	return fmt.Sprintf("cart %s has invalid owner state: user_id set=%t, session_id set=%t",
		e.CartID, e.HasUser, e.HasSession)
}

func (e *InvalidOwnerStateError) Is(target error) bool {
	return target == ErrInvalidOwnerState
}
