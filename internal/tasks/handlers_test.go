package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/tasks"
	"github.com/opsmith/cloudbase/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingProvisioner reports the same error for every operation.
type failingProvisioner struct {
	err error
}

func (p *failingProvisioner) Provision(ctx context.Context, env *models.Environment) (*tasks.ProvisionResult, error) {
	return nil, p.err
}

func (p *failingProvisioner) Apply(ctx context.Context, env *models.Environment, changes map[string]any) (*tasks.ProvisionResult, error) {
	return nil, p.err
}

func (p *failingProvisioner) Teardown(ctx context.Context, env *models.Environment) error {
	return p.err
}

func setupTaskTest(t *testing.T, provisioner tasks.Provisioner) (*testutil.TestSetup, *tasks.Handler, *models.Organisation, *models.CloudAccount) {
	t.Helper()

	ts := testutil.NewTestSetup(t)
	if provisioner == nil {
		provisioner = tasks.NewStubProvisioner(testutil.TestLogger())
	}
	handler := tasks.NewHandler(ts.Registry, ts.Machine, provisioner, testutil.TestLogger())
	org := testutil.CreateTestOrg(t, ts.DB)
	account := testutil.CreateTestCloudAccount(t, ts.DB, org.ID)
	return ts, handler, org, account
}

func createManagedEnv(t *testing.T, ts *testutil.TestSetup, orgID, accountID uuid.UUID, state models.EnvironmentState) *models.Environment {
	t.Helper()

	env := &models.Environment{
		OrganisationID: orgID,
		CloudAccountID: accountID,
		Name:           "env-" + uuid.New().String()[:8],
		State:          state,
		Region:         "us-east-1",
	}
	_, err := ts.Registry.Create(testutil.TestContext(t), env)
	require.NoError(t, err)
	return env
}

func TestHandleProvision(t *testing.T) {
	t.Run("success activates the environment", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, nil)
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateCreating)

		task, err := tasks.NewEnvironmentProvisionTask(tasks.ProvisionPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		require.NoError(t, handler.HandleProvision(ctx, task))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Environment)
		assert.Equal(t, models.EnvironmentStateActive, loaded.State)
		require.NotNil(t, loaded.VpcID)
		assert.NotEmpty(t, *loaded.VpcID)
	})

	t.Run("provisioner failure moves to FAILED with detail", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, &failingProvisioner{err: errors.New("no capacity")})
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateCreating)

		task, err := tasks.NewEnvironmentProvisionTask(tasks.ProvisionPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		require.NoError(t, handler.HandleProvision(ctx, task))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Environment)
		assert.Equal(t, models.EnvironmentStateFailed, loaded.State)
		assert.Equal(t, "no capacity", loaded.Error)
	})

	t.Run("environment already advanced drops the task", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, nil)
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateActive)

		task, err := tasks.NewEnvironmentProvisionTask(tasks.ProvisionPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		// ACTIVE has no provision edges; the stale task is dropped, not retried.
		require.NoError(t, handler.HandleProvision(ctx, task))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EnvironmentStateActive, entity.(*models.Environment).State)
	})

	t.Run("missing environment drops the task", func(t *testing.T) {
		_, handler, org, _ := setupTaskTest(t, nil)
		ctx := testutil.TestContext(t)

		task, err := tasks.NewEnvironmentProvisionTask(tasks.ProvisionPayload{
			EnvironmentID:  uuid.New(),
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		assert.NoError(t, handler.HandleProvision(ctx, task))
	})
}

func TestHandleApply(t *testing.T) {
	t.Run("success returns to ACTIVE with changes applied", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, nil)
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateUpdating)

		task, err := tasks.NewEnvironmentApplyTask(tasks.ApplyPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
			Changes:        map[string]any{"region": "ap-southeast-2"},
		})
		require.NoError(t, err)

		require.NoError(t, handler.HandleApply(ctx, task))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Environment)
		assert.Equal(t, models.EnvironmentStateActive, loaded.State)
		assert.Equal(t, "ap-southeast-2", loaded.Region)
	})

	t.Run("failure moves to FAILED", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, &failingProvisioner{err: errors.New("terraform apply failed")})
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateUpdating)

		task, err := tasks.NewEnvironmentApplyTask(tasks.ApplyPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		require.NoError(t, handler.HandleApply(ctx, task))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Environment)
		assert.Equal(t, models.EnvironmentStateFailed, loaded.State)
		assert.Equal(t, "terraform apply failed", loaded.Error)
	})
}

func TestHandleTeardown(t *testing.T) {
	t.Run("success removes the environment", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, nil)
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateDeleting)

		task, err := tasks.NewEnvironmentTeardownTask(tasks.TeardownPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		require.NoError(t, handler.HandleTeardown(ctx, task))

		var count int64
		require.NoError(t, ts.DB.Model(&models.Environment{}).Where("id = ?", env.ID).Count(&count).Error)
		assert.Zero(t, count)

		latest, err := ts.Ledger.Latest(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, models.OperationDelete, latest.Operation)
	})

	t.Run("failure moves to FAILED and keeps the row", func(t *testing.T) {
		ts, handler, org, account := setupTaskTest(t, &failingProvisioner{err: errors.New("vpc has dependent resources")})
		ctx := testutil.TestContext(t)
		env := createManagedEnv(t, ts, org.ID, account.ID, models.EnvironmentStateDeleting)

		task, err := tasks.NewEnvironmentTeardownTask(tasks.TeardownPayload{
			EnvironmentID:  env.ID,
			OrganisationID: org.ID,
		})
		require.NoError(t, err)

		require.NoError(t, handler.HandleTeardown(ctx, task))

		entity, err := ts.Registry.Get(ctx, models.EntityTypeEnvironment, env.ID)
		require.NoError(t, err)
		loaded := entity.(*models.Environment)
		assert.Equal(t, models.EnvironmentStateFailed, loaded.State)
		assert.Equal(t, "vpc has dependent resources", loaded.Error)
	})

	t.Run("malformed payload is an error", func(t *testing.T) {
		_, handler, _, _ := setupTaskTest(t, nil)
		ctx := testutil.TestContext(t)

		bad := asynq.NewTask(tasks.TypeEnvironmentTeardown, []byte("{not json"))
		assert.Error(t, handler.HandleTeardown(ctx, bad))
	})
}
