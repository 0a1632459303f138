package report

import (
	"context"
	"fmt"
	"log"
	"time"

	"FlowTagger/internal/config"
	"FlowTagger/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTagTableStatement = `
CREATE TABLE IF NOT EXISTS flowlog_tag_counts (
    Timestamp  DateTime,
    Tag        String,
    Count      UInt64,
    Incomplete Bool
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, Tag);
`

const createPairTableStatement = `
CREATE TABLE IF NOT EXISTS flowlog_pair_counts (
    Timestamp  DateTime,
    DstPort    UInt16,
    Protocol   LowCardinality(String),
    Count      UInt64,
    Incomplete Bool
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, DstPort, Protocol);
`

// ClickHouseWriter inserts the count tables of a result into ClickHouse.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects to ClickHouse and ensures both tables exist.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createTagTableStatement, createPairTableStatement} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")

	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Type returns the writer type.
func (w *ClickHouseWriter) Type() string {
	return "clickhouse"
}

// Write inserts one row per tag and one row per port/protocol pair.
func (w *ClickHouseWriter) Write(result *model.Result, timestamp string) error {
	ctx := context.Background()
	runTime, err := time.Parse(TimestampLayout, timestamp)
	if err != nil {
		runTime = time.Now().UTC()
	}

	if len(result.TagCounts) > 0 {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO flowlog_tag_counts")
		if err != nil {
			return fmt.Errorf("failed to prepare tag batch: %w", err)
		}
		for tag, n := range result.TagCounts {
			if err := batch.Append(runTime, tag, n, result.Incomplete); err != nil {
				return fmt.Errorf("failed to append tag to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send tag batch: %w", err)
		}
	}

	if len(result.PairCounts) > 0 {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO flowlog_pair_counts")
		if err != nil {
			return fmt.Errorf("failed to prepare pair batch: %w", err)
		}
		for key, n := range result.PairCounts {
			if err := batch.Append(runTime, key.DstPort, key.Protocol, n, result.Incomplete); err != nil {
				return fmt.Errorf("failed to append pair to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send pair batch: %w", err)
		}
	}

	log.Printf("Wrote %d tags and %d pairs to ClickHouse", len(result.TagCounts), len(result.PairCounts))
	return nil
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
