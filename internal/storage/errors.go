package storage

import "errors"

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrQuoteRecordNotFound is returned when an archived quote is not found
	ErrQuoteRecordNotFound = errors.New("quote record not found")
)
