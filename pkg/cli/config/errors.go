package config

import "errors"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidPattern   = errors.New("invalid policy pattern")
	ErrInvalidE164      = errors.New("invalid E.164 number")
	ErrDuplicateEntry   = errors.New("duplicate entry")
	ErrUnknownReference = errors.New("unknown reference")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	E164Key       = "e164"
	UserIDKey     = "user_id"
	ThreadKeyKey  = "thread_key"
)
