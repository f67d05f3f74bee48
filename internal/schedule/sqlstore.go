package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// eventRow is the persisted form of an Event.
type eventRow struct {
	ID       uint      `gorm:"primaryKey"`
	Date     string    `gorm:"size:10;not null;index;uniqueIndex:idx_event_identity"`
	AssetRef string    `gorm:"not null;uniqueIndex:idx_event_identity"`
	StartAt  time.Time `gorm:"not null;uniqueIndex:idx_event_identity"`
	EndAt    time.Time `gorm:"not null"`
}

func (eventRow) TableName() string { return "schedule_events" }

func (r eventRow) event() Event {
	return Event{AssetRef: r.AssetRef, Start: r.StartAt, End: r.EndAt}
}

func rowFor(date string, e Event) eventRow {
	return eventRow{Date: date, AssetRef: e.AssetRef, StartAt: e.Start.UTC(), EndAt: e.End.UTC()}
}

// SQLStore is a Store backed by SQLite through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the schedule database at path and migrates it.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open schedule db: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing gorm handle and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate schedule db: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get implements Store.Get.
func (s *SQLStore) Get(ctx context.Context, date string) (DaySchedule, error) {
	events, err := loadDay(s.db.WithContext(ctx), date)
	if err != nil {
		return DaySchedule{}, err
	}
	return DaySchedule{Date: date, Events: events}, nil
}

// Replace implements Store.Replace. The delete and inserts share one
// transaction so readers never observe a partially written day.
func (s *SQLStore) Replace(ctx context.Context, day DaySchedule) error {
	if err := day.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("date = ?", day.Date).Delete(&eventRow{}).Error; err != nil {
			return fmt.Errorf("clear schedule %s: %w", day.Date, err)
		}
		if len(day.Events) == 0 {
			return nil
		}
		rows := make([]eventRow, 0, len(day.Events))
		for _, e := range day.Sorted() {
			rows = append(rows, rowFor(day.Date, e))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("write schedule %s: %w", day.Date, err)
		}
		return nil
	})
}

// AddEvent implements Store.AddEvent.
func (s *SQLStore) AddEvent(ctx context.Context, date string, e Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadDay(tx, date)
		if err != nil {
			return err
		}
		next := DaySchedule{Date: date, Events: append(existing, e)}
		if err := next.Validate(); err != nil {
			return err
		}
		row := rowFor(date, e)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("add event %s: %w", e.AssetRef, err)
		}
		return nil
	})
}

// RemoveEvent implements Store.RemoveEvent.
func (s *SQLStore) RemoveEvent(ctx context.Context, date, assetRef string, start time.Time) error {
	res := s.db.WithContext(ctx).
		Where("date = ? AND asset_ref = ? AND start_at = ?", date, assetRef, start.UTC()).
		Delete(&eventRow{})
	if res.Error != nil {
		return fmt.Errorf("remove event %s: %w", assetRef, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func loadDay(db *gorm.DB, date string) ([]Event, error) {
	var rows []eventRow
	err := db.Where("date = ?", date).Order("start_at ASC").Find(&rows).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load schedule %s: %w", date, err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}
