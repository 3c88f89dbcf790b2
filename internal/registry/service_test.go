package registry_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/testutil"
	"github.com/opsmith/cloudbase/internal/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Create(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := testutil.TestContext(t)

	t.Run("assigns version and ledgers the create", func(t *testing.T) {
		org := &models.Organisation{Name: "Acme", Slug: "acme"}
		token, err := ts.Registry.Create(ctx, org)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, token, org.Version)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeOrganisation, org.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, token, latest.Version)
		assert.Equal(t, models.OperationCreate, latest.Operation)
		assert.Nil(t, latest.FromVersion)
	})

	t.Run("duplicate slug is a constraint violation", func(t *testing.T) {
		dup := &models.Organisation{Name: "Acme Again", Slug: "acme"}
		_, err := ts.Registry.Create(ctx, dup)
		require.Error(t, err)

		var violation *registry.ConstraintViolationError
		assert.ErrorAs(t, err, &violation)

		// The failed create must not leave a ledger entry behind.
		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeOrganisation, dup.ID)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("secret create keeps the provider version id", func(t *testing.T) {
		org := &models.Organisation{Name: "Secrets Org", Slug: "secrets-org"}
		_, err := ts.Registry.Create(ctx, org)
		require.NoError(t, err)

		secret := &models.Secret{
			OrganisationID:   org.ID,
			SecretID:         "db-password",
			CurrentVersionID: "aws-v1",
		}
		token, err := ts.Registry.Create(ctx, secret)
		require.NoError(t, err)
		assert.Equal(t, "aws-v1", token)
		assert.Equal(t, "aws-v1", secret.CurrentVersionID)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeSecret, secret.ID)
		require.NoError(t, err)
		assert.Equal(t, "aws-v1", latest.Version)
	})
}

func TestService_Get(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, ts.DB)

	t.Run("loads an existing entity", func(t *testing.T) {
		entity, err := ts.Registry.Get(ctx, models.EntityTypeOrganisation, org.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Organisation)
		assert.Equal(t, org.Slug, loaded.Slug)
	})

	t.Run("missing entity is NotFound", func(t *testing.T) {
		_, err := ts.Registry.Get(ctx, models.EntityTypeOrganisation, uuid.New())
		var notFound *registry.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("unknown entity type", func(t *testing.T) {
		_, err := ts.Registry.Get(ctx, "widget", uuid.New())
		assert.Error(t, err)
	})
}

func TestService_Update(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := testutil.TestContext(t)

	t.Run("compare-and-set with current version", func(t *testing.T) {
		org := &models.Organisation{Name: "Before", Slug: "update-org"}
		v1, err := ts.Registry.Create(ctx, org)
		require.NoError(t, err)

		v2, err := ts.Registry.Update(ctx, models.EntityTypeOrganisation, org.ID, map[string]any{"name": "After"}, v1)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		entity, err := ts.Registry.Get(ctx, models.EntityTypeOrganisation, org.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Organisation)
		assert.Equal(t, "After", loaded.Name)
		assert.Equal(t, v2, loaded.Version)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeOrganisation, org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OperationUpdate, latest.Operation)
		require.NotNil(t, latest.FromVersion)
		assert.Equal(t, v1, *latest.FromVersion)
	})

	t.Run("stale version conflicts and reports current", func(t *testing.T) {
		org := &models.Organisation{Name: "Contested", Slug: "contested-org"}
		v1, err := ts.Registry.Create(ctx, org)
		require.NoError(t, err)

		v2, err := ts.Registry.Update(ctx, models.EntityTypeOrganisation, org.ID, map[string]any{"name": "First"}, v1)
		require.NoError(t, err)

		// Second writer still holds v1.
		_, err = ts.Registry.Update(ctx, models.EntityTypeOrganisation, org.ID, map[string]any{"name": "Second"}, v1)
		require.Error(t, err)

		var conflict *versioning.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, v1, conflict.Expected)
		assert.Equal(t, v2, conflict.Current)

		// The losing write changed nothing.
		entity, err := ts.Registry.Get(ctx, models.EntityTypeOrganisation, org.ID)
		require.NoError(t, err)
		assert.Equal(t, "First", entity.(*models.Organisation).Name)
	})

	t.Run("missing entity is NotFound, not a conflict", func(t *testing.T) {
		_, err := ts.Registry.Update(ctx, models.EntityTypeOrganisation, uuid.New(), map[string]any{"name": "x"}, versioning.VersionNone)
		var notFound *registry.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("secrets refuse generic updates", func(t *testing.T) {
		_, err := ts.Registry.Update(ctx, models.EntityTypeSecret, uuid.New(), map[string]any{"secret_id": "x"}, versioning.VersionNone)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rotated")
	})

	t.Run("repeated contested updates have exactly one winner", func(t *testing.T) {
		org := &models.Organisation{Name: "Race", Slug: "race-org"}
		base, err := ts.Registry.Create(ctx, org)
		require.NoError(t, err)

		wins := 0
		for i := 0; i < 10; i++ {
			_, err := ts.Registry.Update(ctx, models.EntityTypeOrganisation, org.ID, map[string]any{"plan": "pro"}, base)
			if err == nil {
				wins++
			} else {
				var conflict *versioning.ConflictError
				require.ErrorAs(t, err, &conflict)
			}
		}
		assert.Equal(t, 1, wins)
	})
}

func TestService_Delete(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := testutil.TestContext(t)

	t.Run("referenced cloud account is refused", func(t *testing.T) {
		org := testutil.CreateTestOrg(t, ts.DB)
		account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)
		testutil.CreateTestEnvironment(t, ts.DB, org.ID, account.ID, models.EnvironmentStateActive)

		err := ts.Registry.Delete(ctx, models.EntityTypeCloudAccount, account.ID)
		require.Error(t, err)

		var violation *registry.ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Detail, "environments")

		// Account row still present.
		_, err = ts.Registry.Get(ctx, models.EntityTypeCloudAccount, account.ID)
		assert.NoError(t, err)
	})

	t.Run("unreferenced cloud account deletes and ledgers", func(t *testing.T) {
		org := testutil.CreateTestOrg(t, ts.DB)
		account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)

		require.NoError(t, ts.Registry.Delete(ctx, models.EntityTypeCloudAccount, account.ID))

		_, err := ts.Registry.Get(ctx, models.EntityTypeCloudAccount, account.ID)
		var notFound *registry.NotFoundError
		assert.ErrorAs(t, err, &notFound)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeCloudAccount, account.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, models.OperationDelete, latest.Operation)
	})

	t.Run("organisation delete cascades to environments and accounts", func(t *testing.T) {
		org := testutil.CreateTestOrg(t, ts.DB)
		account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)
		env := testutil.CreateTestEnvironment(t, ts.DB, org.ID, account.ID, models.EnvironmentStateActive)

		require.NoError(t, ts.Registry.Delete(ctx, models.EntityTypeOrganisation, org.ID))

		for entityType, id := range map[string]uuid.UUID{
			models.EntityTypeOrganisation: org.ID,
			models.EntityTypeCloudAccount: account.ID,
			models.EntityTypeEnvironment:  env.ID,
		} {
			_, err := ts.Registry.Get(ctx, entityType, id)
			var notFound *registry.NotFoundError
			assert.ErrorAs(t, err, &notFound, "%s should be gone", entityType)

			latest, err := ts.Ledger.Latest(ctx, entityType, id)
			require.NoError(t, err)
			require.NotNil(t, latest, "%s should have a ledger entry", entityType)
			assert.Equal(t, models.OperationDelete, latest.Operation)
		}
	})

	t.Run("organisation delete cascades to applications, secrets and mappings", func(t *testing.T) {
		org := testutil.CreateTestOrg(t, ts.DB)
		account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)
		env := testutil.CreateTestEnvironment(t, ts.DB, org.ID, account.ID, models.EnvironmentStateActive)
		app := testutil.CreateTestApplication(t, ts.DB, org.ID)
		tag := testutil.CreateTestTag(t, ts.DB)
		secret := testutil.CreateTestSecret(t, ts.DB, org.ID, "v-cascade")
		testutil.CreateTestMapping(t, ts.DB, app.ID, tag.ID, env.ID)

		require.NoError(t, ts.Registry.Delete(ctx, models.EntityTypeOrganisation, org.ID))

		for entityType, id := range map[string]uuid.UUID{
			models.EntityTypeApplication: app.ID,
			models.EntityTypeSecret:      secret.ID,
		} {
			_, err := ts.Registry.Get(ctx, entityType, id)
			var notFound *registry.NotFoundError
			assert.ErrorAs(t, err, &notFound, "%s should be gone", entityType)

			latest, err := ts.Ledger.Latest(ctx, entityType, id)
			require.NoError(t, err)
			require.NotNil(t, latest, "%s should have a ledger entry", entityType)
			assert.Equal(t, models.OperationDelete, latest.Operation)
		}

		var mappings int64
		require.NoError(t, ts.DB.Model(&models.ApplicationEnvironmentTag{}).
			Where("application_id = ?", app.ID).Count(&mappings).Error)
		assert.Zero(t, mappings)

		// Tags are shared across organisations and survive the cascade.
		_, err := ts.Registry.Get(ctx, models.EntityTypeTag, tag.ID)
		assert.NoError(t, err)
	})

	t.Run("application delete takes its mappings with it", func(t *testing.T) {
		org := testutil.CreateTestOrg(t, ts.DB)
		account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)
		env := testutil.CreateTestEnvironment(t, ts.DB, org.ID, account.ID, models.EnvironmentStateActive)
		app := testutil.CreateTestApplication(t, ts.DB, org.ID)
		tag := testutil.CreateTestTag(t, ts.DB)
		testutil.CreateTestMapping(t, ts.DB, app.ID, tag.ID, env.ID)

		require.NoError(t, ts.Registry.Delete(ctx, models.EntityTypeApplication, app.ID))

		var mappings int64
		require.NoError(t, ts.DB.Model(&models.ApplicationEnvironmentTag{}).
			Where("application_id = ?", app.ID).Count(&mappings).Error)
		assert.Zero(t, mappings)
	})

	t.Run("missing entity is NotFound", func(t *testing.T) {
		err := ts.Registry.Delete(ctx, models.EntityTypeOrganisation, uuid.New())
		var notFound *registry.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestService_DeleteVersioned(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, ts.DB)
	account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)

	t.Run("stale version cannot remove the row", func(t *testing.T) {
		env := &models.Environment{
			OrganisationID: org.ID,
			CloudAccountID: account.ID,
			Name:           "cas-delete-stale",
			State:          models.EnvironmentStateDeleting,
		}
		_, err := ts.Registry.Create(ctx, env)
		require.NoError(t, err)

		err = ts.Registry.DeleteVersioned(ctx, models.EntityTypeEnvironment, env.ID, "stale")
		var conflict *versioning.ConflictError
		require.ErrorAs(t, err, &conflict)

		_, err = ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		assert.NoError(t, err)
	})

	t.Run("current version removes and ledgers the delete", func(t *testing.T) {
		env := &models.Environment{
			OrganisationID: org.ID,
			CloudAccountID: account.ID,
			Name:           "cas-delete-ok",
			State:          models.EnvironmentStateDeleting,
		}
		v1, err := ts.Registry.Create(ctx, env)
		require.NoError(t, err)

		require.NoError(t, ts.Registry.DeleteVersioned(ctx, models.EntityTypeEnvironment, env.ID, v1))

		_, err = ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		var notFound *registry.NotFoundError
		assert.ErrorAs(t, err, &notFound)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OperationDelete, latest.Operation)
		require.NotNil(t, latest.FromVersion)
		assert.Equal(t, v1, *latest.FromVersion)
	})

	t.Run("environment removal clears its mappings", func(t *testing.T) {
		env := &models.Environment{
			OrganisationID: org.ID,
			CloudAccountID: account.ID,
			Name:           "cas-delete-mapped",
			State:          models.EnvironmentStateDeleting,
		}
		v1, err := ts.Registry.Create(ctx, env)
		require.NoError(t, err)

		app := testutil.CreateTestApplication(t, ts.DB, org.ID)
		tag := testutil.CreateTestTag(t, ts.DB)
		testutil.CreateTestMapping(t, ts.DB, app.ID, tag.ID, env.ID)

		require.NoError(t, ts.Registry.DeleteVersioned(ctx, models.EntityTypeEnvironment, env.ID, v1))

		var mappings int64
		require.NoError(t, ts.DB.Model(&models.ApplicationEnvironmentTag{}).
			Where("environment_id = ?", env.ID).Count(&mappings).Error)
		assert.Zero(t, mappings)
	})

	t.Run("stale removal leaves the mappings in place", func(t *testing.T) {
		env := &models.Environment{
			OrganisationID: org.ID,
			CloudAccountID: account.ID,
			Name:           "cas-delete-mapped-stale",
			State:          models.EnvironmentStateDeleting,
		}
		_, err := ts.Registry.Create(ctx, env)
		require.NoError(t, err)

		app := testutil.CreateTestApplication(t, ts.DB, org.ID)
		tag := testutil.CreateTestTag(t, ts.DB)
		testutil.CreateTestMapping(t, ts.DB, app.ID, tag.ID, env.ID)

		err = ts.Registry.DeleteVersioned(ctx, models.EntityTypeEnvironment, env.ID, "stale")
		var conflict *versioning.ConflictError
		require.ErrorAs(t, err, &conflict)

		var mappings int64
		require.NoError(t, ts.DB.Model(&models.ApplicationEnvironmentTag{}).
			Where("environment_id = ?", env.ID).Count(&mappings).Error)
		assert.Equal(t, int64(1), mappings)
	})
}

func TestService_RotateSecret(t *testing.T) {
	ts := testutil.NewTestSetup(t)
	ctx := testutil.TestContext(t)

	org := testutil.CreateTestOrg(t, ts.DB)

	t.Run("rotation moves current to last in one step", func(t *testing.T) {
		secret := testutil.CreateTestSecret(t, ts.DB, org.ID, "v-111")

		require.NoError(t, ts.Registry.RotateSecret(ctx, secret.ID, "v-222", "v-111"))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeSecret, secret.ID)
		require.NoError(t, err)
		rotated := entity.(*models.Secret)
		assert.Equal(t, "v-222", rotated.CurrentVersionID)
		require.NotNil(t, rotated.LastVersionID)
		assert.Equal(t, "v-111", *rotated.LastVersionID)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeSecret, secret.ID)
		require.NoError(t, err)
		assert.Equal(t, "v-222", latest.Version)
		require.NotNil(t, latest.FromVersion)
		assert.Equal(t, "v-111", *latest.FromVersion)
	})

	t.Run("stale expected current conflicts", func(t *testing.T) {
		secret := testutil.CreateTestSecret(t, ts.DB, org.ID, "v-aaa")

		require.NoError(t, ts.Registry.RotateSecret(ctx, secret.ID, "v-bbb", "v-aaa"))

		err := ts.Registry.RotateSecret(ctx, secret.ID, "v-ccc", "v-aaa")
		var conflict *versioning.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "v-bbb", conflict.Current)

		// Losing rotation changed nothing.
		entity, err := ts.Registry.Get(ctx, models.EntityTypeSecret, secret.ID)
		require.NoError(t, err)
		assert.Equal(t, "v-bbb", entity.(*models.Secret).CurrentVersionID)
	})

	t.Run("empty new version id is rejected", func(t *testing.T) {
		secret := testutil.CreateTestSecret(t, ts.DB, org.ID, "v-x")
		assert.Error(t, ts.Registry.RotateSecret(ctx, secret.ID, "", "v-x"))
	})

	t.Run("missing secret is NotFound", func(t *testing.T) {
		err := ts.Registry.RotateSecret(ctx, uuid.New(), "v-1", "v-0")
		var notFound *registry.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}
