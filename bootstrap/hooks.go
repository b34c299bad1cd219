package bootstrap

import (
	"github.com/rs/zerolog"

	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/service"
)

// Built-in handler names available to config endpoints.
const (
	HandlerNoop = "noop"
	HandlerLog  = "log"
)

// RegisterBuiltins registers handlers every config may bind endpoints to.
// Handlers registered later under the same name replace them.
func RegisterBuiltins(rt *runtime.Runtime, logger zerolog.Logger) {
	rt.RegisterHandler(HandlerNoop, func(*service.Frame) error { return nil })

	// log - records the invoking action and payload; bind it with
	// params [actionid, payload]
	rt.RegisterHandler(HandlerLog, func(f *service.Frame) error {
		logger.Info().
			Str("action", f.ActionID()).
			Interface("payload", f.Payload()).
			Msg("log handler invoked")
		return nil
	})

	logger.Debug().Strs("handlers", rt.Handlers().List()).Msg("builtin handlers registered")
}
