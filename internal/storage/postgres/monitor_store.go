package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// MonitorStore implements store.StatusRepository on the crawler status table.
// Its column names are camelCase and must stay quoted.
type MonitorStore struct {
	db      querier
	table   string
	release func() error
}

// NewMonitorStore builds a MonitorStore on an open connection.
func NewMonitorStore(conn *Conn, table string) (*MonitorStore, error) {
	if conn == nil || conn.Pool == nil {
		return nil, fmt.Errorf("connection is required")
	}
	s, err := NewMonitorStoreWithPool(conn.Pool, table)
	if err != nil {
		return nil, err
	}
	s.release = conn.Close
	return s, nil
}

// NewMonitorStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewMonitorStoreWithPool(pool querier, table string) (*MonitorStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &MonitorStore{db: pool, table: table}, nil
}

// UpdateCrawlStatus writes outcome into the row identified by statusID.
func (s *MonitorStore) UpdateCrawlStatus(ctx context.Context, statusID int64, outcome crawler.Outcome) error {
	query, args, err := psql.Update(s.table).SetMap(map[string]any{
		"total":       outcome.Total,
		"increment":   outcome.Increment,
		"state":       int(outcome.State),
		`"errorInfo"`: outcome.ErrorText,
		`"logTime"`:   outcome.LogTime.Format(time.DateTime),
	}).Where(sq.Eq{"id": statusID}).ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update crawl status %d: %w", statusID, err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *MonitorStore) Close() error {
	if s == nil || s.release == nil {
		return nil
	}
	return s.release()
}
