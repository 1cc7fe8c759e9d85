package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"

	"quiz-squad/internal/domain"
)

func TestMapErrorDetectsMissingTable(t *testing.T) {
	missing := fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01", Message: `relation "profiles" does not exist`})
	if !errors.Is(mapError(missing), domain.ErrSetupRequired) {
		t.Fatalf("expected ErrSetupRequired")
	}

	other := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if got := mapError(other); errors.Is(got, domain.ErrSetupRequired) {
		t.Fatalf("unexpected setup error for %v", got)
	}

	// a message mentioning a missing relation is not enough on its own
	plain := errors.New(`relation "profiles" does not exist`)
	if errors.Is(mapError(plain), domain.ErrSetupRequired) {
		t.Fatalf("expected plain error to pass through")
	}
}
