package common

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("storage engine closed")
	ErrKeyEmpty    = errors.New("key cannot be empty")
)
