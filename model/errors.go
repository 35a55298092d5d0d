package model

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrUnconfigured = errors.New("service is not configured")
	ErrTransport    = errors.New("upstream call failed")
	ErrInvalid      = errors.New("invalid input")
)
