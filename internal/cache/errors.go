package cache

import "errors"

var (
	ErrInvalidStaticTable = errors.New("invalid static cache table")
	ErrMalformedReply     = errors.New("malformed generation reply")
	ErrNoGenerator        = errors.New("no generator configured")
)
