package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aminovpavel/thermopipe-go/internal/observability"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

// SQLiteConfig holds configuration values for the SQLite journal.
type SQLiteConfig struct {
	Path     string
	DeviceID string
	// BootID identifies the boot cycle; a random UUID is used when empty.
	BootID              string
	Retention           time.Duration
	MaintenanceInterval time.Duration
}

// SQLiteJournal appends events to a SQLite database.
type SQLiteJournal struct {
	cfg  SQLiteConfig
	db   *sql.DB
	wg   sync.WaitGroup
	once sync.Once
	now  func() time.Time

	logger  *slog.Logger
	metrics *observability.Metrics

	maintenanceStop chan struct{}
}

// Option configures the journal.
type Option func(*SQLiteJournal)

// WithLogger injects a structured logger into the journal.
func WithLogger(logger *slog.Logger) Option {
	return func(j *SQLiteJournal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(j *SQLiteJournal) {
		if metrics != nil {
			j.metrics = metrics
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *SQLiteJournal) {
		if now != nil {
			j.now = now
		}
	}
}

// NewSQLiteJournal constructs a journal with the provided configuration.
func NewSQLiteJournal(cfg SQLiteConfig, opts ...Option) (*SQLiteJournal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("journal: database path must be provided")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("journal: device id must be provided")
	}
	if cfg.BootID == "" {
		cfg.BootID = uuid.NewString()
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Hour
	}

	j := &SQLiteJournal{
		cfg:             cfg,
		now:             time.Now,
		logger:          slog.Default(),
		maintenanceStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// BootID returns the identifier stamped on every event of this run.
func (j *SQLiteJournal) BootID() string {
	return j.cfg.BootID
}

// Start opens the database, runs migrations, and starts retention pruning.
func (j *SQLiteJournal) Start(ctx context.Context) error {
	abs, err := filepath.Abs(j.cfg.Path)
	if err != nil {
		return fmt.Errorf("journal: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("journal: ensure directory: %w", err)
	}

	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return fmt.Errorf("journal: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := configureConnection(db); err != nil {
		db.Close()
		return err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return err
	}

	j.db = db
	j.startMaintenance(ctx)
	return nil
}

// Stop halts maintenance and closes the database.
func (j *SQLiteJournal) Stop() error {
	var err error
	j.once.Do(func() {
		close(j.maintenanceStop)
		j.wg.Wait()
		if j.db != nil {
			if _, cpErr := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); cpErr != nil {
				j.logger.Warn("final journal checkpoint failed", slog.Any("error", cpErr))
			}
			err = j.db.Close()
		}
	})
	return err
}

// RecordBoot notes a successful network join at the start of a boot cycle.
func (j *SQLiteJournal) RecordBoot(ctx context.Context, address string) error {
	return j.insert(ctx, event{Kind: KindBoot, Message: address})
}

// RecordTelemetry notes a published telemetry message.
func (j *SQLiteJournal) RecordTelemetry(ctx context.Context, msg telemetry.Message) error {
	payload, err := telemetry.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("journal: encode telemetry: %w", err)
	}
	temp, hum := msg.Reading.Temperature, msg.Reading.Humidity
	return j.insert(ctx, event{
		Kind:        KindTelemetry,
		Temperature: &temp,
		Humidity:    &hum,
		Payload:     string(payload),
	})
}

// RecordErrorReport notes an error report and whether it reached the broker.
func (j *SQLiteJournal) RecordErrorReport(ctx context.Context, report telemetry.ErrorReport, delivered bool) error {
	return j.insert(ctx, event{Kind: KindErrorReport, Message: report.Message, Delivered: &delivered})
}

// RecordReset notes that the agent is about to reset.
func (j *SQLiteJournal) RecordReset(ctx context.Context, kind string, reason error) error {
	msg := kind
	if reason != nil {
		msg = kind + ": " + reason.Error()
	}
	return j.insert(ctx, event{Kind: KindReset, Message: msg})
}

type event struct {
	Kind        string
	Temperature *float64
	Humidity    *float64
	Message     string
	Payload     string
	Delivered   *bool
}

func (j *SQLiteJournal) insert(ctx context.Context, ev event) error {
	if j.db == nil {
		return errors.New("journal: not started")
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO journal_events (
        timestamp,
        boot_id,
        device_id,
        kind,
        temperature,
        humidity,
        message,
        payload,
        delivered
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unixSeconds(j.now()),
		j.cfg.BootID,
		j.cfg.DeviceID,
		ev.Kind,
		nullFloat64(ev.Temperature),
		nullFloat64(ev.Humidity),
		nullString(ev.Message),
		nullString(ev.Payload),
		nullBool(ev.Delivered),
	)
	if err != nil {
		j.metrics.IncJournalErrors()
		return fmt.Errorf("journal: insert %s: %w", ev.Kind, err)
	}
	return nil
}

func (j *SQLiteJournal) startMaintenance(ctx context.Context) {
	if j.cfg.Retention <= 0 || j.db == nil {
		return
	}

	ticker := time.NewTicker(j.cfg.MaintenanceInterval)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-j.maintenanceStop:
				return
			case <-ticker.C:
				if _, err := j.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
					j.logger.Warn("journal maintenance failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// Prune deletes events older than the configured retention.
func (j *SQLiteJournal) Prune(ctx context.Context) (int64, error) {
	if j.db == nil || j.cfg.Retention <= 0 {
		return 0, nil
	}

	cutoff := unixSeconds(j.now().Add(-j.cfg.Retention))
	res, err := j.db.ExecContext(ctx, `DELETE FROM journal_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	removed, _ := res.RowsAffected()
	if _, err := j.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return removed, fmt.Errorf("journal: wal_checkpoint: %w", err)
	}
	if removed > 0 {
		j.logger.Info("journal pruned", slog.Int64("rows", removed))
	}
	return removed, nil
}

func configureConnection(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("journal: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS journal_events (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp REAL NOT NULL,
        boot_id TEXT NOT NULL,
        device_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        temperature REAL,
        humidity REAL,
        message TEXT,
        payload TEXT,
        delivered INTEGER
	)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_events_timestamp ON journal_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_events_kind ON journal_events(kind, timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat64(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}
