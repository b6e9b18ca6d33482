package database

import (
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

// NewMockPool creates a pgxmock pool that satisfies DBTX. Unmet expectations
// fail the test at cleanup.
func NewMockPool(tb testing.TB) pgxmock.PgxPoolIface {
	tb.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		tb.Fatalf("create pgxmock pool: %v", err)
	}
	tb.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			tb.Errorf("unmet database expectations: %v", err)
		}
		mock.Close()
	})
	return mock
}
