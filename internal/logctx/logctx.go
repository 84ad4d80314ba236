// Package logctx provides the shared structured logger used across the
// blobseer client coordinator, matching the way torua threads a logger
// through every collaborator's constructor rather than relying on package
// globals.
package logctx

import (
	"go.uber.org/zap"
)

// New builds a production zap.Logger with the given name attached, or a
// no-op logger in tests via Nop.
//
// Components never construct their own logger: New (or a *zap.Logger
// obtained from it via With/Named) is passed in at construction time, so
// callers can swap in a development logger, a test observer, or a no-op
// logger without touching package internals.
func New(name string) (*zap.Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return base.Named(name), nil
}

// Nop returns a logger that discards everything, for tests and for
// components that were not handed an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
