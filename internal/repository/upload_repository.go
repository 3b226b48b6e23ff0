package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"lpr-session-service/internal/domain/lpr"
)

type UploadRepository struct {
	db *gorm.DB
}

func NewUploadRepository(db *gorm.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) Create(ctx context.Context, upload *Upload) error {
	if upload.Status == "" {
		upload.Status = lpr.UploadPending
	}
	upload.CreatedAt = time.Now()
	return r.db.WithContext(ctx).Create(upload).Error
}

func (r *UploadRepository) Get(ctx context.Context, id string) (*Upload, error) {
	var upload Upload
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&upload).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: upload %s", lpr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

func (r *UploadRepository) SetStatus(ctx context.Context, id, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == lpr.UploadCompleted || status == lpr.UploadCancelled || status == lpr.UploadError {
		now := time.Now()
		updates["completed_at"] = &now
	}
	return r.db.WithContext(ctx).Model(&Upload{}).Where("id = ?", id).Updates(updates).Error
}

// RecordCounts stores the outcome of an ingest batch on its upload row.
func (r *UploadRepository) RecordCounts(ctx context.Context, id string, claimed, loaded, duplicate, errored int) error {
	return r.db.WithContext(ctx).Model(&Upload{}).Where("id = ?", id).Updates(map[string]interface{}{
		"rows_claimed":   claimed,
		"rows_loaded":    loaded,
		"rows_duplicate": duplicate,
		"rows_errored":   errored,
	}).Error
}
