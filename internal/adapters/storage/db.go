// Package storage persists messages and accounts in an embedded badger database.
package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// Open opens the database at path. An empty path opens an in-memory database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	log.Info().Str("module", "storage").Str("path", path).Bool("in_memory", path == "").Msg("database opened")
	return db, nil
}

// badgerLogger routes badger's own logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	log.Error().Str("module", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	log.Warn().Str("module", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	log.Debug().Str("module", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	log.Trace().Str("module", "badger").Msgf(format, args...)
}
