package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/database/models"
	"gorm.io/gorm"
)

// Audit row statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Common actions. Handlers and the lifecycle machine compose others as
// "<verb>_<entity>" where needed.
const (
	ActionCreateEnvironment = "create_environment"
	ActionUpdateEnvironment = "update_environment"
	ActionDeleteEnvironment = "delete_environment"
	ActionRotateSecret      = "rotate_secret"
)

// Recorder appends user-attributable actions to the audit trail. Same
// append-only guarantee as the version ledger: no update or delete API.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// WithTx scopes the recorder to a transaction so lifecycle-failure audit
// rows commit atomically with the registry write.
func (r *Recorder) WithTx(tx *gorm.DB) *Recorder {
	return &Recorder{db: tx, logger: r.logger}
}

// Record appends one audit row. userID is nil for pre-auth events such
// as failed login attempts.
func (r *Recorder) Record(ctx context.Context, action string, userID *uuid.UUID, entity, value, status string) error {
	row := models.AuditTrail{
		Action:    action,
		UserID:    userID,
		Entity:    entity,
		Value:     value,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording audit action %q: %w", action, err)
	}
	return nil
}

// ByUser returns audit rows for a user, newest first.
func (r *Recorder) ByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditTrail, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var rows []models.AuditTrail
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing audit rows for user %s: %w", userID, err)
	}
	return rows, nil
}

// ByTimeRange returns audit rows in [from, to), newest first.
func (r *Recorder) ByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]models.AuditTrail, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var rows []models.AuditTrail
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing audit rows between %s and %s: %w", from, to, err)
	}
	return rows, nil
}
