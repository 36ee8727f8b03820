package lms

import "errors"

var (
	// ErrEmptyResult indicates the RPC call succeeded but carried no result
	// payload. Callers treat it as a suppressed cycle, not a fault.
	ErrEmptyResult = errors.New("rpc reply carried no result")

	// ErrMalformedReply indicates the reply body could not be decoded or is
	// missing expected fields.
	ErrMalformedReply = errors.New("malformed rpc reply")
)
