// Package directory resolves user ids to display names from the app's user
// store. The sync hub does not own user records; it only reads them to label
// invites and participant lists.
package directory

import (
	"context"
	"database/sql"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type Store struct {
	db *sqlx.DB
}

func NewStore(postgresURI string) *Store {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
	}
	return &Store{db: db}
}

// Username returns the display name for the given user, or "" without error if
// the user does not exist.
func (s *Store) Username(ctx context.Context, userID int64) (string, error) {
	var username string
	err := s.db.GetContext(ctx, &username, "SELECT username FROM users WHERE id=$1", userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return username, nil
}

func (s *Store) Teardown() {
	s.db.Close()
}
