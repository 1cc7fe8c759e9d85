package postgres

import (
	"errors"

	"github.com/jackc/pgconn"

	"quiz-squad/internal/domain"
)

const undefinedTable = "42P01"

// mapError turns a missing-table failure into domain.ErrSetupRequired.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return domain.ErrSetupRequired
	}
	return err
}
