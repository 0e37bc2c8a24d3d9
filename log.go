package iec61850

import "github.com/rs/zerolog"

// logger is used by mappings whose ServerConfig carries no logger.
var logger = zerolog.Nop()

// SetLogger replaces the package logger. It should be called before Compile.
func SetLogger(l zerolog.Logger) {
	logger = l
}
