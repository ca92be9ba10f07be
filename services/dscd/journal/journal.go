// Package journal persists engine events so operators can audit deposits,
// mints, redemptions, burns and liquidations after the fact.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stablecore/core/events"
	"stablecore/core/types"
)

const defaultFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

var (
	// ErrPathRequired is returned when the sqlite journal path is missing.
	ErrPathRequired = errors.New("journal path must be configured")
	// ErrUnknownDriver is returned for drivers other than sqlite and postgres.
	ErrUnknownDriver = errors.New("journal driver must be sqlite or postgres")
)

// Record is the persisted row for one emitted event.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"index;not null"`
	Attributes string    `gorm:"not null"`
	RecordedAt int64     `gorm:"index;not null"`
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "dsc_events" }

// Entry is a decoded journal row.
type Entry struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Journal implements events.Emitter on top of a gorm database.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Dialector selects the gorm driver for driver and target. sqlite targets
// are file paths, postgres targets are connection strings.
func Dialector(driver, target string) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dsn, err := FileDSN(target)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		if strings.TrimSpace(target) == "" {
			return nil, ErrPathRequired
		}
		return postgres.Open(strings.TrimSpace(target)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Open creates or reopens the sqlite journal stored at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	dialector, err := Dialector("sqlite", path)
	if err != nil {
		return nil, err
	}
	return OpenWith(dialector, logger)
}

// OpenWith connects through dialector and migrates the schema.
func OpenWith(dialector gorm.Dialector, logger *slog.Logger) (*Journal, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return closeDB(j.db)
}

// Emit implements events.Emitter. Events without a typed payload are stored
// with an empty attribute set. Write failures are logged, never propagated:
// the engine has already committed by the time events are emitted.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType()}
	if typed, ok := evt.(events.Payload); ok && typed.Event() != nil {
		payload = typed.Event()
	}
	if _, err := j.Append(context.Background(), payload); err != nil {
		j.logger.Error("journal append failed", "type", payload.Type, "error", err)
	}
}

// Append stores evt and returns the generated row identifier.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (string, error) {
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return "", fmt.Errorf("journal: event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.New(),
		Type:       evt.Type,
		Attributes: string(encoded),
		RecordedAt: j.now().UTC().UnixNano(),
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return record.ID.String(), nil
}

// Recent returns up to limit entries, newest first. An empty eventType
// matches every event.
func (j *Journal) Recent(ctx context.Context, eventType string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := j.db.WithContext(ctx).Model(&Record{})
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var records []Record
	if err := query.Order("seq DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{
			ID:         rec.ID.String(),
			Type:       rec.Type,
			RecordedAt: time.Unix(0, rec.RecordedAt).UTC(),
		}
		if err := json.Unmarshal([]byte(rec.Attributes), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", entry.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
