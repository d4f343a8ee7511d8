package internal

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrCodeTaken    = errors.New("short code already taken")
	ErrLimitReached = errors.New("anonymous short URL limit reached")
	ErrInvalidURL   = errors.New("destination must be an absolute http(s) URL")
	ErrInvalidCode  = errors.New("short code must be 1-50 letters, digits, '-' or '_'")
)
