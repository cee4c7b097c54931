// control/hotreload.go
// Applies reloadable settings when the config store changes.

package control

import (
	"fmt"

	"github.com/rs/zerolog"
)

// WatchLogLevel applies the "log_level" key of store to the global zerolog
// level now and on every reload. Unknown levels are logged and ignored.
func WatchLogLevel(store *ConfigStore, log zerolog.Logger) {
	apply := func() {
		v, ok := store.Get("log_level")
		if !ok {
			return
		}
		lvl, err := zerolog.ParseLevel(fmt.Sprint(v))
		if err != nil {
			log.Warn().Err(err).Interface("log_level", v).Msg("ignoring log level")
			return
		}
		if lvl != zerolog.GlobalLevel() {
			zerolog.SetGlobalLevel(lvl)
			log.Info().Stringer("level", lvl).Msg("log level changed")
		}
	}
	store.OnReload(apply)
	apply()
}
