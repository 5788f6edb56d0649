// Package clickhouse provides the ClickHouse emission ledger.
// Every estimated trip and purchase is appended as an event so monthly
// history can be aggregated without touching the transactional store.
package clickhouse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ecotrack/pkg/api"
)

// Ledger categories. They mirror the footprint categories that have dated
// events; appliances and heating are continuous and not ledgered.
const (
	CategoryTransport   = "transport"
	CategoryConsumption = "consumption"
)

// EmissionEvent is one dated emission of a user
type EmissionEvent struct {
	ID         uuid.UUID       `ch:"id"`
	UserID     uuid.UUID       `ch:"user_id"`
	Category   string          `ch:"category"`
	SourceID   uuid.UUID       `ch:"source_id"`
	OccurredAt time.Time       `ch:"occurred_at"`
	KgCO2e     decimal.Decimal `ch:"kg_co2e"`
	Confidence float64         `ch:"confidence"`
	Hash       string          `ch:"hash"`
	CreatedAt  time.Time       `ch:"created_at"`
}

// MonthlyTotal is the aggregated emission of one category in one month
type MonthlyTotal struct {
	Month    time.Time       `json:"month"`
	Category string          `json:"category"`
	KgCO2e   decimal.Decimal `json:"kg_co2e"`
	Events   uint64          `json:"events"`
}

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "ecotrack",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Addr returns the native protocol address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Ledger stores emission events in ClickHouse
type Ledger struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewLedger opens a connection to the ledger database
func NewLedger(cfg *Config) (*Ledger, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Ledger{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (l *Ledger) Ping(ctx context.Context) error {
	return l.conn.Ping(ctx)
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

const createEventsTable = `
	CREATE TABLE IF NOT EXISTS emission_events (
		id          UUID,
		user_id     UUID,
		category    LowCardinality(String),
		source_id   UUID,
		occurred_at DateTime64(3, 'UTC'),
		kg_co2e     Decimal(18, 4),
		confidence  Float64,
		hash        String,
		created_at  DateTime64(3, 'UTC')
	)
	ENGINE = ReplacingMergeTree(created_at)
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (user_id, category, source_id)
`

// Migrate creates the ledger tables
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create emission_events: %w", err)
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// RecordEmission appends an event. Recording the same source again
// replaces the previous row on merge.
func (l *Ledger) RecordEmission(ctx context.Context, ev EmissionEvent) error {
	return l.RecordBatch(ctx, []EmissionEvent{ev})
}

// RecordBatch appends events in a single insert
func (l *Ledger) RecordBatch(ctx context.Context, events []EmissionEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO emission_events (
			id, user_id, category, source_id, occurred_at, kg_co2e, confidence, hash, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.Hash == "" {
			ev.Hash = EventHash(ev)
		}
		if err := batch.Append(
			ev.ID,
			ev.UserID,
			ev.Category,
			ev.SourceID,
			ev.OccurredAt.UTC(),
			ev.KgCO2e,
			ev.Confidence,
			ev.Hash,
			now,
		); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	return batch.Send()
}

// ForgetSource removes the events of a deleted trip or purchase
func (l *Ledger) ForgetSource(ctx context.Context, userID, sourceID uuid.UUID) error {
	return l.conn.Exec(ctx,
		`DELETE FROM emission_events WHERE user_id = ? AND source_id = ?`,
		userID, sourceID,
	)
}

// MonthlyTotals aggregates a user's events per calendar month and category
// over [from, to).
func (l *Ledger) MonthlyTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]MonthlyTotal, error) {
	query := `
		SELECT
			toStartOfMonth(occurred_at) AS month,
			category,
			sum(kg_co2e) AS kg,
			count() AS events
		FROM emission_events FINAL
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY month, category
		ORDER BY month, category
	`

	rows, err := l.conn.Query(ctx, query, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly totals: %w", err)
	}
	defer rows.Close()

	var totals []MonthlyTotal
	for rows.Next() {
		var t MonthlyTotal
		if err := rows.Scan(&t.Month, &t.Category, &t.KgCO2e, &t.Events); err != nil {
			return nil, fmt.Errorf("failed to scan monthly total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// =============================================================================
// EVENT BUILDERS
// =============================================================================

// TripEvent builds the ledger event of an estimated trip. ok is false when
// the trip has no emission figure.
func TripEvent(trip api.Trip, conf float64) (EmissionEvent, bool) {
	if trip.EmissionsKg == nil {
		return EmissionEvent{}, false
	}
	ev := EmissionEvent{
		UserID:     trip.UserID,
		Category:   CategoryTransport,
		SourceID:   trip.ID,
		OccurredAt: trip.Date,
		KgCO2e:     decimal.NewFromFloat(*trip.EmissionsKg).Round(4),
		Confidence: conf,
	}
	ev.Hash = EventHash(ev)
	return ev, true
}

// PurchaseEvent builds the ledger event of a purchase
func PurchaseEvent(p api.Purchase, product api.Product, conf float64) EmissionEvent {
	ev := EmissionEvent{
		UserID:     p.UserID,
		Category:   CategoryConsumption,
		SourceID:   p.ID,
		OccurredAt: p.Date,
		KgCO2e:     decimal.NewFromFloat(p.Quantity * product.KgCO2ePerUnit).Round(4),
		Confidence: conf,
	}
	ev.Hash = EventHash(ev)
	return ev
}

// EventHash fingerprints the content of an event, independent of its ID
func EventHash(ev EmissionEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s",
		ev.UserID, ev.Category, ev.SourceID, ev.OccurredAt.UTC().UnixMilli(), ev.KgCO2e.StringFixed(4))
	return hex.EncodeToString(h.Sum(nil))
}
