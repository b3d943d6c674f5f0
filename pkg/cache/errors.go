package cache

import "errors"

var (
	// ErrMiss is returned by a Transport when the key is absent or expired
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable is returned by Purge when the transport could not be reached
	ErrUnavailable = errors.New("cache unavailable")

	// ErrInvalidKey is returned when a tenant id or logical key is empty or contains the delimiter
	ErrInvalidKey = errors.New("invalid cache key")
)
