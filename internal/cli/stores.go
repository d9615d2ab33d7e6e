package cli

import (
	"fmt"

	"github.com/buildloop-io/buildloop/internal/config"
	"github.com/buildloop-io/buildloop/internal/store"
	"github.com/buildloop-io/buildloop/internal/store/postgres"
	"github.com/buildloop-io/buildloop/internal/store/sqlite"
)

// openStore builds the configured ticket store.
func openStore(sc config.Store) (store.Store, error) {
	switch sc.Driver {
	case "", "json":
		return store.Open(sc.Path)
	case "sqlite":
		return sqlite.Open(sc.Path)
	case "postgres":
		return postgres.Open(sc.URL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}
