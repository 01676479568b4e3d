package store

import "errors"

var (
	ErrConflict            = errors.New("store: conflicting write")
	ErrNotFound            = errors.New("store: not found")
	ErrIdempotencyConflict = errors.New("store: id already exists")
)
