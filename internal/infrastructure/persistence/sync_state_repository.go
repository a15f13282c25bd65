package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/infrastructure/persistence/models"
)

const defaultRecordLimit = 100

// GormSyncStateRepository implements integration.SyncStateRepository
type GormSyncStateRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormSyncStateRepository creates a new GormSyncStateRepository
func NewGormSyncStateRepository(db *gorm.DB) *GormSyncStateRepository {
	return &GormSyncStateRepository{db: db, now: time.Now}
}

// GetCursor returns the saved cursor or a zero cursor for direction
func (r *GormSyncStateRepository) GetCursor(ctx context.Context, direction integration.Direction) (*integration.Cursor, error) {
	var m models.SyncCursorModel
	err := r.db.WithContext(ctx).Where("direction = ?", string(direction)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &integration.Cursor{Direction: direction}, nil
	}
	if err != nil {
		return nil, classifyStoreError("get sync cursor", err)
	}
	return m.ToDomain(), nil
}

// SaveCursor inserts or replaces the cursor of its direction
func (r *GormSyncStateRepository) SaveCursor(ctx context.Context, cursor *integration.Cursor) error {
	cursor.UpdatedAt = r.now().UTC()
	m := models.SyncCursorModel{
		Direction:    string(cursor.Direction),
		LastSyncedAt: cursor.LastSyncedAt.UTC(),
		UpdatedAt:    cursor.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "direction"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_synced_at", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return classifyStoreError("save sync cursor", err)
	}
	return nil
}

// SaveRecord appends a per-document outcome
func (r *GormSyncStateRepository) SaveRecord(ctx context.Context, record *integration.SyncRecord) error {
	if err := r.db.WithContext(ctx).Create(models.SyncRecordModelFromDomain(record)).Error; err != nil {
		return classifyStoreError("save sync record", err)
	}
	return nil
}

// ListRecords returns the newest records matching filter
func (r *GormSyncStateRepository) ListRecords(ctx context.Context, filter integration.SyncRecordFilter) ([]integration.SyncRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRecordModel{})
	if filter.JobID != "" {
		query = query.Where("job_id = ?", filter.JobID)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", string(filter.Direction))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecordLimit
	}

	var rows []models.SyncRecordModel
	if err := query.Order("synced_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, classifyStoreError("list sync records", err)
	}
	out := make([]integration.SyncRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
