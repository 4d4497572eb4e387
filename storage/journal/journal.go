package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aphdex/core/types"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrClosed = errors.New("journal: closed")

// Entry is one archived event row.
type Entry struct {
	ID           uint      `gorm:"primaryKey"`
	InvocationID uuid.UUID `gorm:"type:uuid;index"`
	Sequence     int       `gorm:"not null"`
	Operation    string    `gorm:"size:64;index"`
	Height       uint64    `gorm:"index"`
	Success      bool
	Type         string `gorm:"size:64;index"`
	Attributes   string `gorm:"type:text"`
	CreatedAt    time.Time
}

// Event rebuilds the archived notification.
func (e Entry) Event() (*types.Event, error) {
	evt := types.NewEvent(e.Type)
	if e.Attributes == "" {
		return evt, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &evt.Attributes); err != nil {
		return nil, fmt.Errorf("journal: entry %d: %w", e.ID, err)
	}
	return evt, nil
}

// Record is everything one invocation contributes to the journal.
type Record struct {
	InvocationID uuid.UUID
	Operation    string
	Height       uint64
	Success      bool
	Events       []*types.Event
}

// Journal archives invocation events in a SQL database.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the journal database selected by driver.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, ErrClosed
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Append stores the events of rec in one database transaction. Records
// without events are skipped.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	if len(rec.Events) == 0 {
		return nil
	}
	now := j.now().UTC()
	rows := make([]Entry, 0, len(rec.Events))
	for i, evt := range rec.Events {
		if evt == nil {
			continue
		}
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("journal: encode %s: %w", evt.Type, err)
		}
		rows = append(rows, Entry{
			InvocationID: rec.InvocationID,
			Sequence:     i,
			Operation:    rec.Operation,
			Height:       rec.Height,
			Success:      rec.Success,
			Type:         evt.Type,
			Attributes:   string(attrs),
			CreatedAt:    now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

// ByInvocation lists the events of one invocation in emission order.
func (j *Journal) ByInvocation(ctx context.Context, id uuid.UUID) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	var out []Entry
	err := j.db.WithContext(ctx).
		Where("invocation_id = ?", id).
		Order("sequence asc").
		Find(&out).Error
	return out, err
}

// ByType lists the most recent events with the given tag. A limit of zero
// returns every match.
func (j *Journal) ByType(ctx context.Context, typ string, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	q := j.db.WithContext(ctx).Where("type = ?", typ).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Entry
	err := q.Find(&out).Error
	return out, err
}

// Count reports how many rows the journal holds.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	var n int64
	err := j.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error
	return n, err
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	j.db = nil
	return sqlDB.Close()
}
