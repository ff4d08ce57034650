package config

import "errors"

// Static errors for the configuration package
var (
	ErrConfigNil             = errors.New("config cannot be nil")
	ErrConfigNotPointer      = errors.New("config must be a pointer to a struct")
	ErrUnsupportedFormat     = errors.New("unsupported config format")
	ErrUnsupportedFieldType  = errors.New("unsupported field type")
	ErrFieldCannotBeSet      = errors.New("field cannot be set")
	ErrEnvPrefixEmpty        = errors.New("env feeder prefix cannot be empty")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrConfigFileUnreadable  = errors.New("config file unreadable")
	ErrDefaultValueMalformed = errors.New("malformed default value")
)
