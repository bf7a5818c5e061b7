package state

import "errors"

var (
	ErrKeyNotFound  = errors.New("state: key not found")
	ErrDuplicateKey = errors.New("state: duplicate key")
)

// KeyError records the operation and key that failed.
type KeyError struct {
	Op  string
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *KeyError) Unwrap() error {
	return e.Err
}
