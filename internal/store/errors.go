package store

import "errors"

var (
	ErrTokenNotFound     = errors.New("token not found")
	ErrInvalidTransition = errors.New("invalid token transition")
	ErrTokenLocked       = errors.New("token action in flight")
)
