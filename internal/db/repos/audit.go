package repos

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/logger"
)

// AuditRepository persists the audit trail of user actions.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new instance of AuditRepository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends an audit entry. Audit failures are logged, never surfaced:
// a broken audit trail must not fail the user's request.
func (r *AuditRepository) Record(ctx context.Context, userID uuid.UUID, action, ip, userAgent string, details interface{}) {
	entry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.ErrorWithFields("failed to record audit entry", map[string]interface{}{
			"user_id": userID.String(),
			"action":  action,
			"error":   err.Error(),
		})
	}
}

// ListByUser returns a user's audit entries, newest first.
func (r *AuditRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = models.DefaultPageSize
	}
	var entries []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
