package domain

import "errors"

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrMalformedResponse  = errors.New("malformed oracle response")
	ErrOutOfRangeOutcome  = errors.New("outcome out of range")
	ErrUnknownNetwork     = errors.New("unknown network")
	ErrWriteFailed        = errors.New("ledger write failed")
	ErrInvalidMarket      = errors.New("invalid market")

	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
)
