package protocol

import "github.com/pkg/errors"

var (
	ErrInvalidRequestSize = errors.New("invalid request size")
	ErrPacketTooShort     = errors.New("packet too short")
)
