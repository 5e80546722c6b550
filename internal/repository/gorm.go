package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/RelayVoiceAI/relay-call-service/internal/domain"
	applog "github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// GormManager implements Manager on PostgreSQL.
type GormManager struct {
	db *gorm.DB
}

// NewGormManager opens the database and migrates the display tables.
func NewGormManager(dsn string) (*GormManager, error) {
	gl := gormlogger.New(applog.NewGORMWriter(), gormlogger.Config{
		SlowThreshold: 500 * time.Millisecond,
		LogLevel:      gormlogger.Error,
	})

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.CallRecord{}, &domain.TranscriptEntry{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &GormManager{db: db}, nil
}

func (m *GormManager) CallHistory() CallHistoryRepository { return &gormHistory{db: m.db} }
func (m *GormManager) Transcripts() TranscriptRepository  { return &gormTranscripts{db: m.db} }

func (m *GormManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *GormManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormHistory struct {
	db *gorm.DB
}

func (r *gormHistory) RecordInitiated(ctx context.Context, rec *domain.CallRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *gormHistory) MarkConnected(ctx context.Context, legID, conferenceID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("leg_id = ?", legID).
		Updates(map[string]interface{}{
			"status":        domain.CallStatusConnected,
			"conference_id": conferenceID,
			"answered_at":   now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormHistory) MarkCompleted(ctx context.Context, legID, hangupCause string) error {
	var rec domain.CallRecord
	err := r.db.WithContext(ctx).Where("leg_id = ?", legID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	now := time.Now()
	rec.Status = domain.CallStatusCompleted
	rec.HangupCause = hangupCause
	rec.EndedAt = &now
	rec.DurationSeconds = int(now.Sub(rec.StartedAt).Seconds())
	rec.UpdatedAt = now
	return r.db.WithContext(ctx).Save(&rec).Error
}

func (r *gormHistory) GetByLegID(ctx context.Context, legID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	err := r.db.WithContext(ctx).Where("leg_id = ?", legID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *gormHistory) List(ctx context.Context, limit, offset int) ([]*domain.CallRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.CallRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []*domain.CallRecord
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return recs, int(total), nil
}

type gormTranscripts struct {
	db *gorm.DB
}

func (r *gormTranscripts) Append(ctx context.Context, entry *domain.TranscriptEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormTranscripts) ListByConference(ctx context.Context, conferenceID string) ([]*domain.TranscriptEntry, error) {
	var entries []*domain.TranscriptEntry
	err := r.db.WithContext(ctx).
		Where("conference_id = ?", conferenceID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
