package alspsmeter

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS readings (
    timestamp DateTime64(3),
    session_id String,
    channel LowCardinality(String),
    value Int32,
    raw UInt16,
    report_type LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (channel, timestamp)`

// Archiver stores readings beyond the local history.
type Archiver interface {
	Save(ctx context.Context, rec Record) error
}

// ClickHouseArchive keeps every recorded reading in a ClickHouse table.
type ClickHouseArchive struct {
	conn driver.Conn
}

// NewClickHouseArchive connects and creates the readings table if needed.
func NewClickHouseArchive(ctx context.Context, addr, database, username, password string) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	a := &ClickHouseArchive{conn: conn}
	if err := a.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	l.WithField("addr", addr).Info("Connected to ClickHouse")
	return a, nil
}

func (a *ClickHouseArchive) InitSchema(ctx context.Context) error {
	if err := a.conn.Exec(ctx, archiveSchema); err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) Save(ctx context.Context, rec Record) error {
	err := a.conn.Exec(ctx, `
		INSERT INTO readings (timestamp, session_id, channel, value, raw, report_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Timestamp,
		rec.SessionID,
		rec.Channel.String(),
		int32(rec.Value),
		rec.Raw,
		rec.ReportType.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive reading: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}
