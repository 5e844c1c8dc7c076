package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrStatsUnavailable = errors.New("statistics unavailable")
	ErrInvalidSample    = errors.New("invalid sample")
	ErrReportNotFound   = errors.New("report not found")
)
