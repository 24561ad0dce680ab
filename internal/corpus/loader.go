package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medassist-io/codematch/pkg/postgres"
	"github.com/medassist-io/codematch/pkg/resilience"
)

const loadActiveQuery = `
SELECT code, description
FROM reference_codes
WHERE active = TRUE AND deleted_at IS NULL
ORDER BY code`

// PostgresLoader reads the reference vocabulary from the reference_codes
// table, guarded by a circuit breaker and retried with backoff.
type PostgresLoader struct {
	client  *postgres.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewPostgresLoader creates a PostgresLoader around an existing client.
func NewPostgresLoader(client *postgres.Client) *PostgresLoader {
	return &PostgresLoader{
		client:  client,
		breaker: resilience.NewCircuitBreaker("corpus-loader", resilience.CircuitBreakerConfig{}),
		logger:  slog.Default().With("component", "corpus-loader"),
	}
}

// LoadActive returns all active, non-soft-deleted reference rows ordered by
// code. The stable ordering keeps tie-breaking deterministic downstream.
func (l *PostgresLoader) LoadActive(ctx context.Context) ([]RawEntry, error) {
	var entries []RawEntry
	err := l.breaker.Execute(func() error {
		return resilience.Retry(ctx, "corpus-load", resilience.RetryConfig{}, func() error {
			rows, err := l.client.DB.QueryContext(ctx, loadActiveQuery)
			if err != nil {
				return fmt.Errorf("querying reference_codes: %w", err)
			}
			defer rows.Close()

			loaded := make([]RawEntry, 0, 1024)
			for rows.Next() {
				var e RawEntry
				if err := rows.Scan(&e.Code, &e.Description); err != nil {
					return fmt.Errorf("scanning reference row: %w", err)
				}
				loaded = append(loaded, e)
			}
			if err := rows.Err(); err != nil {
				return fmt.Errorf("iterating reference rows: %w", err)
			}
			entries = loaded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("reference rows loaded", "count", len(entries))
	return entries, nil
}
