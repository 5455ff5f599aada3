package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger tags the global logger, configured by package logging,
// with a component and node name.
func ComponentLogger(component, node string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Str("node", node).Logger()
}
