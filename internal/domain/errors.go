package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTransportBlocked = errors.New("recipient blocked transport") // permanent, never retried
)
