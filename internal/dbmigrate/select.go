package dbmigrate

import (
	"errors"

	"github.com/fdg312/metabolic-hub/internal/config"
)

var ErrNoDatabaseURL = errors.New("no database URL configured (set DATABASE_URL_DIRECT or DATABASE_URL)")

// Target is the connection chosen for DDL.
type Target struct {
	URL     string
	Source  string // env var the URL came from
	Warning string
}

// SelectTarget picks the connection for migrations: DIRECT, then
// DATABASE_URL, then POOLED with a warning. strict accepts DIRECT only.
func SelectTarget(cfg *config.Config, strict bool) (Target, error) {
	switch {
	case cfg.DatabaseURLDirect != "":
		return Target{URL: cfg.DatabaseURLDirect, Source: "DATABASE_URL_DIRECT"}, nil
	case strict:
		return Target{}, errors.New("DATABASE_URL_DIRECT is required for DDL/migrations")
	case cfg.DatabaseURLRaw != "":
		return Target{URL: cfg.DatabaseURLRaw, Source: "DATABASE_URL"}, nil
	case cfg.DatabaseURLPooled != "":
		return Target{
			URL:     cfg.DatabaseURLPooled,
			Source:  "DATABASE_URL_POOLED",
			Warning: "pooled connections may break goose advisory locks; set DATABASE_URL_DIRECT",
		}, nil
	}
	return Target{}, ErrNoDatabaseURL
}
