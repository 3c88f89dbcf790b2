package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/ledger"
	"github.com/opsmith/cloudbase/internal/versioning"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// prototypes maps a ledger entity type name to a fresh model instance.
var prototypes = map[string]func() models.Entity{
	models.EntityTypeOrganisation: func() models.Entity { return &models.Organisation{} },
	models.EntityTypeCloudAccount: func() models.Entity { return &models.CloudAccount{} },
	models.EntityTypeEnvironment:  func() models.Entity { return &models.Environment{} },
	models.EntityTypeApplication:  func() models.Entity { return &models.Application{} },
	models.EntityTypeTag:          func() models.Entity { return &models.Tag{} },
	models.EntityTypeSecret:       func() models.Entity { return &models.Secret{} },
}

// Service is the durable entity store. Every successful create, update
// and delete commits a version-ledger append in the same transaction;
// updates are compare-and-set against the stored version column.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	guard  *versioning.Guard
	logger *slog.Logger
}

func NewService(db *gorm.DB, led *ledger.Ledger, guard *versioning.Guard, logger *slog.Logger) *Service {
	return &Service{db: db, ledger: led, guard: guard, logger: logger}
}

// WithTx scopes the registry to an enclosing transaction. Nested writes
// run under a savepoint, so a failed ledger append still rolls the whole
// mutation back.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx, ledger: s.ledger.WithTx(tx), guard: s.guard, logger: s.logger}
}

// Guard exposes the version guard for callers that need tokens outside
// the generic update path.
func (s *Service) Guard() *versioning.Guard {
	return s.guard
}

// Create persists a new entity, assigns its first version token and
// appends the CREATE ledger entry.
func (s *Service) Create(ctx context.Context, entity models.Entity) (string, error) {
	token := s.guard.NextToken()
	if entity.EntityType() != models.EntityTypeSecret {
		entity.SetVersion(token)
	} else if entity.CurrentVersion() != "" {
		// Secrets carry provider-issued version ids; ledger the one given.
		token = entity.CurrentVersion()
	} else {
		entity.SetVersion(token)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entity).Error; err != nil {
			if isUniqueViolation(err) {
				return &ConstraintViolationError{
					EntityType: entity.EntityType(),
					EntityID:   entity.EntityID(),
					Detail:     "uniqueness constraint violated",
				}
			}
			return fmt.Errorf("creating %s: %w", entity.EntityType(), err)
		}
		return s.ledger.WithTx(tx).Append(ctx, &models.EntityVersion{
			EntityType: entity.EntityType(),
			EntityID:   entity.EntityID(),
			Version:    token,
			Operation:  models.OperationCreate,
		})
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("created entity",
		"entity_type", entity.EntityType(),
		"entity_id", entity.EntityID(),
		"version", token,
	)
	return token, nil
}

// Get loads an entity by type and id.
func (s *Service) Get(ctx context.Context, entityType string, id uuid.UUID) (models.Entity, error) {
	proto, ok := prototypes[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	entity := proto()
	err := s.db.WithContext(ctx).Where("id = ?", id).First(entity).Error
	if err == gorm.ErrRecordNotFound {
		return nil, &NotFoundError{EntityType: entityType, EntityID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", entityType, id, err)
	}
	return entity, nil
}

// Update applies patch to the entity if expectedVersion is still
// current. The version check and the row write are one atomic
// compare-and-set paired with the ledger append.
func (s *Service) Update(ctx context.Context, entityType string, id uuid.UUID, patch map[string]any, expectedVersion string) (string, error) {
	return s.UpdateWithMetadata(ctx, entityType, id, patch, patch, expectedVersion)
}

// UpdateWithMetadata is Update with a caller-supplied ledger metadata
// payload, used by the lifecycle machine to record transition events.
func (s *Service) UpdateWithMetadata(ctx context.Context, entityType string, id uuid.UUID, patch, meta map[string]any, expectedVersion string) (string, error) {
	proto, ok := prototypes[entityType]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	if entityType == models.EntityTypeSecret {
		return "", fmt.Errorf("secrets are rotated, not patched")
	}

	var newVersion string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.guard.CheckAndAdvance(ctx, s.ledger.WithTx(tx), entityType, id, expectedVersion)
		if err != nil {
			return s.resolveGuardFailure(ctx, tx, proto(), entityType, id, err)
		}

		updates := make(map[string]any, len(patch)+1)
		for k, v := range patch {
			updates[k] = v
		}
		updates["version"] = token

		// The WHERE version clause closes the window between the guard's
		// ledger read and this write: a concurrent winner leaves zero
		// affected rows.
		res := tx.Model(proto()).Where("id = ? AND version = ?", id, expectedVersion).Updates(updates)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return &ConstraintViolationError{EntityType: entityType, EntityID: id, Detail: "uniqueness constraint violated"}
			}
			return fmt.Errorf("updating %s %s: %w", entityType, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return s.staleOrMissing(ctx, tx, proto(), entityType, id, expectedVersion)
		}

		rec := &models.EntityVersion{
			EntityType: entityType,
			EntityID:   id,
			Version:    token,
			Operation:  models.OperationUpdate,
			Metadata:   marshalMetadata(meta),
		}
		if expectedVersion != versioning.VersionNone {
			from := expectedVersion
			rec.FromVersion = &from
		}
		if err := s.ledger.WithTx(tx).Append(ctx, rec); err != nil {
			return err
		}
		newVersion = token
		return nil
	})
	if err != nil {
		return "", err
	}
	return newVersion, nil
}

// Delete removes an entity and appends the DELETE ledger entry. Cloud
// accounts still referenced by environments are refused; organisation
// deletion cascades to everything the organisation owns; applications
// and environments take their mapping rows with them.
func (s *Service) Delete(ctx context.Context, entityType string, id uuid.UUID) error {
	entity, err := s.Get(ctx, entityType, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch entityType {
		case models.EntityTypeCloudAccount:
			if err := s.checkAccountUnreferenced(ctx, tx, id); err != nil {
				return err
			}
		case models.EntityTypeOrganisation:
			if err := s.WithTx(tx).cascadeOrganisation(ctx, id); err != nil {
				return err
			}
		case models.EntityTypeApplication:
			if err := clearMappings(ctx, tx, "application_id", id); err != nil {
				return err
			}
		case models.EntityTypeEnvironment:
			if err := clearMappings(ctx, tx, "environment_id", id); err != nil {
				return err
			}
		case models.EntityTypeTag:
			if err := clearMappings(ctx, tx, "tag_id", id); err != nil {
				return err
			}
		}
		return s.WithTx(tx).deleteRow(ctx, entity)
	})
}

// DeleteVersioned is a compare-and-set delete used by the environment
// lifecycle machine, so a stale worker cannot remove a row another
// transition already advanced.
func (s *Service) DeleteVersioned(ctx context.Context, entityType string, id uuid.UUID, expectedVersion string) error {
	proto, ok := prototypes[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Mapping rows reference the environment; clearing them here keeps
		// the removal atomic. A failed compare-and-set rolls them back.
		if entityType == models.EntityTypeEnvironment {
			if err := clearMappings(ctx, tx, "environment_id", id); err != nil {
				return err
			}
		}

		res := tx.Where("id = ? AND version = ?", id, expectedVersion).Delete(proto())
		if res.Error != nil {
			return fmt.Errorf("deleting %s %s: %w", entityType, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return s.staleOrMissing(ctx, tx, proto(), entityType, id, expectedVersion)
		}
		from := expectedVersion
		return s.ledger.WithTx(tx).Append(ctx, &models.EntityVersion{
			EntityType:  entityType,
			EntityID:    id,
			Version:     s.guard.NextToken(),
			FromVersion: &from,
			Operation:   models.OperationDelete,
		})
	})
}

// RotateSecret atomically moves current_version_id to last_version_id
// and installs the provider-issued new version. Exactly one ledger
// entry records the handover.
func (s *Service) RotateSecret(ctx context.Context, id uuid.UUID, newVersionID, expectedCurrent string) error {
	if newVersionID == "" {
		return fmt.Errorf("new secret version id must not be empty")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Secret{}).
			Where("id = ? AND current_version_id = ?", id, expectedCurrent).
			Updates(map[string]any{
				"current_version_id": newVersionID,
				"last_version_id":    expectedCurrent,
			})
		if res.Error != nil {
			return fmt.Errorf("rotating secret %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return s.staleOrMissing(ctx, tx, &models.Secret{}, models.EntityTypeSecret, id, expectedCurrent)
		}
		from := expectedCurrent
		return s.ledger.WithTx(tx).Append(ctx, &models.EntityVersion{
			EntityType:  models.EntityTypeSecret,
			EntityID:    id,
			Version:     newVersionID,
			FromVersion: &from,
			Operation:   models.OperationUpdate,
		})
	})
}

func (s *Service) checkAccountUnreferenced(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Environment{}).
		Where("cloud_account_id = ?", id).
		Count(&count).Error; err != nil {
		return fmt.Errorf("counting environments for cloud account %s: %w", id, err)
	}
	if count > 0 {
		return &ConstraintViolationError{
			EntityType: models.EntityTypeCloudAccount,
			EntityID:   id,
			Detail:     fmt.Sprintf("%d environments still reference this account", count),
		}
	}
	return nil
}

// cascadeOrganisation removes everything the organisation owns: mapping
// rows first, then environments, cloud accounts, applications and
// secrets, ledgering each versioned removal. Must run inside the
// caller's transaction.
func (s *Service) cascadeOrganisation(ctx context.Context, orgID uuid.UUID) error {
	var envs []models.Environment
	if err := s.db.WithContext(ctx).Where("organisation_id = ?", orgID).Find(&envs).Error; err != nil {
		return fmt.Errorf("loading environments for organisation %s: %w", orgID, err)
	}
	var apps []models.Application
	if err := s.db.WithContext(ctx).Where("organisation_id = ?", orgID).Find(&apps).Error; err != nil {
		return fmt.Errorf("loading applications for organisation %s: %w", orgID, err)
	}

	for i := range envs {
		if err := clearMappings(ctx, s.db, "environment_id", envs[i].ID); err != nil {
			return err
		}
	}
	for i := range apps {
		if err := clearMappings(ctx, s.db, "application_id", apps[i].ID); err != nil {
			return err
		}
	}

	for i := range envs {
		if err := s.deleteRow(ctx, &envs[i]); err != nil {
			return err
		}
	}

	var accounts []models.CloudAccount
	if err := s.db.WithContext(ctx).Where("organisation_id = ?", orgID).Find(&accounts).Error; err != nil {
		return fmt.Errorf("loading cloud accounts for organisation %s: %w", orgID, err)
	}
	for i := range accounts {
		if err := s.deleteRow(ctx, &accounts[i]); err != nil {
			return err
		}
	}

	for i := range apps {
		if err := s.deleteRow(ctx, &apps[i]); err != nil {
			return err
		}
	}

	var secrets []models.Secret
	if err := s.db.WithContext(ctx).Where("organisation_id = ?", orgID).Find(&secrets).Error; err != nil {
		return fmt.Errorf("loading secrets for organisation %s: %w", orgID, err)
	}
	for i := range secrets {
		if err := s.deleteRow(ctx, &secrets[i]); err != nil {
			return err
		}
	}
	return nil
}

// clearMappings drops application-environment-tag rows referencing the
// given entity before its row is removed.
func clearMappings(ctx context.Context, tx *gorm.DB, column string, id uuid.UUID) error {
	err := tx.WithContext(ctx).
		Where(column+" = ?", id).
		Delete(&models.ApplicationEnvironmentTag{}).Error
	if err != nil {
		return fmt.Errorf("clearing mappings where %s = %s: %w", column, id, err)
	}
	return nil
}

func (s *Service) deleteRow(ctx context.Context, entity models.Entity) error {
	res := s.db.WithContext(ctx).Where("id = ?", entity.EntityID()).Delete(entity)
	if res.Error != nil {
		return fmt.Errorf("deleting %s %s: %w", entity.EntityType(), entity.EntityID(), res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{EntityType: entity.EntityType(), EntityID: entity.EntityID()}
	}
	rec := &models.EntityVersion{
		EntityType: entity.EntityType(),
		EntityID:   entity.EntityID(),
		Version:    s.guard.NextToken(),
		Operation:  models.OperationDelete,
	}
	if cur := entity.CurrentVersion(); cur != "" {
		from := cur
		rec.FromVersion = &from
	}
	return s.ledger.Append(ctx, rec)
}

// staleOrMissing turns a zero-affected-rows compare-and-set into the
// precise failure: NotFound when the row is gone, otherwise a conflict
// carrying the authoritative current version.
func (s *Service) staleOrMissing(ctx context.Context, tx *gorm.DB, entity models.Entity, entityType string, id uuid.UUID, expected string) error {
	err := tx.WithContext(ctx).Where("id = ?", id).First(entity).Error
	if err == gorm.ErrRecordNotFound {
		return &NotFoundError{EntityType: entityType, EntityID: id}
	}
	if err != nil {
		return fmt.Errorf("re-reading %s %s: %w", entityType, id, err)
	}
	return &versioning.ConflictError{
		EntityType: entityType,
		EntityID:   id,
		Expected:   expected,
		Current:    entity.CurrentVersion(),
	}
}

// resolveGuardFailure maps a guard conflict on a never-written entity to
// NotFound; everything else passes through.
func (s *Service) resolveGuardFailure(ctx context.Context, tx *gorm.DB, entity models.Entity, entityType string, id uuid.UUID, guardErr error) error {
	conflict, ok := guardErr.(*versioning.ConflictError)
	if !ok || conflict.Current != versioning.VersionNone {
		return guardErr
	}
	err := tx.WithContext(ctx).Where("id = ?", id).First(entity).Error
	if err == gorm.ErrRecordNotFound {
		return &NotFoundError{EntityType: entityType, EntityID: id}
	}
	if err != nil {
		return fmt.Errorf("re-reading %s %s: %w", entityType, id, err)
	}
	return guardErr
}

func marshalMetadata(meta map[string]any) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
