package currency

import (
	"context"
	"database/sql"
	"fmt"
)

// DBSource reads rates from the currencies table, which admins maintain
// through the panel.
type DBSource struct {
	db *sql.DB
}

// NewDBSource creates a rate source backed by the given database.
func NewDBSource(db *sql.DB) *DBSource {
	return &DBSource{db: db}
}

// Rates loads all enabled currency rates.
func (s *DBSource) Rates(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, rate FROM currencies WHERE enabled = true
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query currencies: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var code string
		var rate float64
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan currency row: %w", err)
		}
		rates[code] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rates["USD"] = 1
	return rates, nil
}
