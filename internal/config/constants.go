package config

import "time"

const (
	// Upstream retry policy
	MaxAttempts       = 2
	RetryBaseDelay    = 1500 * time.Millisecond
	RetryMaxDelay     = 30 * time.Second
	DefaultRetryAfter = 2 * time.Second

	// Per-attempt upstream timeout
	UpstreamTimeout = 60 * time.Second

	// Upper bound for a whole turn once it has been detached from the client connection
	TurnTimeout = 3 * time.Minute

	// Messages sent upstream as rolling context
	HistoryLimit = 10

	// Session titles
	TitleWords = 6

	// Random part of a generated session id
	SessionTokenLen = 8

	// Image turns
	MaxImages     = 4
	MaxUploadSize = 20 << 20

	// Object store folder for uploaded images
	UploadFolder = "uploads"

	// Turns accepted per owner per minute
	RateLimitPerMinute = 30

	// HTTP server
	ReadTimeout     = 30 * time.Second
	ShutdownTimeout = 15 * time.Second
)
