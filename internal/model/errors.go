// internal/model/errors.go
package model

import "errors"

var (
	// ErrTransport is returned when a write or read on the byte channel fails
	ErrTransport = errors.New("transport error")
	// ErrTimeout is returned when no reply terminator arrives within the read bound
	ErrTimeout = errors.New("timeout waiting for reply")
	// ErrDecode is returned when a reply line is not valid text
	ErrDecode = errors.New("reply is not valid text")
	// ErrParse is returned when a reply or input does not have the expected shape
	ErrParse = errors.New("parse error")

	ErrNotConnected = errors.New("instrument not connected")
	ErrNotFound     = errors.New("not found")
)
