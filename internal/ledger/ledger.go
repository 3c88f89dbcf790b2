package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/database/models"
	"gorm.io/gorm"
)

// Ledger is the append-only log of entity mutations. Append is the only
// write operation; rows are never updated or deleted.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// WithTx returns a ledger scoped to the given transaction so an append
// commits or rolls back together with the registry write it records.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx, logger: l.logger}
}

// Append writes one ledger row for a committed mutation.
func (l *Ledger) Append(ctx context.Context, rec *models.EntityVersion) error {
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("appending ledger entry for %s %s: %w", rec.EntityType, rec.EntityID, err)
	}
	return nil
}

// Latest returns the newest ledger entry for an entity, or nil when the
// entity has never been written. Ties on created_at are broken by the
// auto-increment id.
func (l *Ledger) Latest(ctx context.Context, entityType string, entityID uuid.UUID) (*models.EntityVersion, error) {
	var rec models.EntityVersion
	err := l.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest version for %s %s: %w", entityType, entityID, err)
	}
	return &rec, nil
}

// History returns ledger entries for an entity, newest first. A zero
// cursor starts from the newest entry; the returned cursor resumes the
// walk and is zero once the history is exhausted.
func (l *Ledger) History(ctx context.Context, entityType string, entityID uuid.UUID, cursor uint, limit int) ([]models.EntityVersion, uint, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := l.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)
	if cursor > 0 {
		query = query.Where("id < ?", cursor)
	}

	var recs []models.EntityVersion
	if err := query.Order("id DESC").Limit(limit + 1).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("reading history for %s %s: %w", entityType, entityID, err)
	}

	var next uint
	if len(recs) > limit {
		recs = recs[:limit]
		next = recs[len(recs)-1].ID
	}
	return recs, next, nil
}
