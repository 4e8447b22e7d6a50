package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoscope/internal/logging"
)

// InitLogger configures the global runtime logger and returns an
// app-scoped sublogger for the entrypoint.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	return log.With().Str("app", app).Logger()
}
