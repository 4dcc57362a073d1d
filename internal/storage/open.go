package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	logx "postpilot/pkg/logx"
)

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"memory":  func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	"mem":     func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
}

// Open returns the store for cfg.Driver; empty means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" {
		name = "sqlite"
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (have %s)", cfg.Driver, strings.Join(Drivers(), ", "))
	}
	return open(cfg, log)
}

// Drivers lists the accepted driver names.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for k := range drivers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newID() string { return uuid.NewString() }
