package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/audit"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/ledger"
	"github.com/opsmith/cloudbase/internal/lifecycle"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/versioning"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Run migrations
	err = db.AutoMigrate(
		&models.Organisation{},
		&models.CloudAccount{},
		&models.Environment{},
		&models.Application{},
		&models.Tag{},
		&models.ApplicationEnvironmentTag{},
		&models.Secret{},
		&models.EntityVersion{},
		&models.AuditTrail{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("warning: failed to get sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

// TestLogger returns a logger that discards nothing but stays quiet in
// normal runs.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(noopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestSetup holds the wired core services most tests need.
type TestSetup struct {
	DB       *gorm.DB
	Ledger   *ledger.Ledger
	Guard    *versioning.Guard
	Registry *registry.Service
	Recorder *audit.Recorder
	Machine  *lifecycle.Machine
}

// NewTestSetup wires the registry stack against a fresh in-memory database.
func NewTestSetup(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	log := TestLogger()
	led := ledger.New(db, log)
	guard := versioning.NewGuard()
	reg := registry.NewService(db, led, guard, log)
	rec := audit.NewRecorder(db, log)
	machine := lifecycle.NewMachine(db, reg, rec, log)

	t.Cleanup(func() { CleanupTestDB(t, db) })

	return &TestSetup{
		DB:       db,
		Ledger:   led,
		Guard:    guard,
		Registry: reg,
		Recorder: rec,
		Machine:  machine,
	}
}

// CreateTestOrg creates a test organisation
func CreateTestOrg(t *testing.T, db *gorm.DB) *models.Organisation {
	t.Helper()

	org := &models.Organisation{
		Base: models.Base{
			ID: uuid.New(),
		},
		Name: "Test Organisation",
		Slug: "test-org-" + uuid.New().String()[:8],
		Plan: "free",
	}

	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organisation: %v", err)
	}

	return org
}

// CreateTestCloudAccount creates a test cloud account for the organisation
func CreateTestCloudAccount(t *testing.T, db *gorm.DB, orgID uuid.UUID) *models.CloudAccount {
	t.Helper()

	account := &models.CloudAccount{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganisationID:    orgID,
		Provider:          models.ProviderAWS,
		AccountIdentifier: "acct-" + uuid.New().String()[:8],
		Region:            "us-east-1",
	}

	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test cloud account: %v", err)
	}

	return account
}

// CreateTestEnvironment creates a test environment in the given state
func CreateTestEnvironment(t *testing.T, db *gorm.DB, orgID, accountID uuid.UUID, state models.EnvironmentState) *models.Environment {
	t.Helper()

	env := &models.Environment{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganisationID: orgID,
		CloudAccountID: accountID,
		Name:           "env-" + uuid.New().String()[:8],
		State:          state,
		Region:         "us-east-1",
	}

	if err := db.Create(env).Error; err != nil {
		t.Fatalf("failed to create test environment: %v", err)
	}

	return env
}

// CreateTestApplication creates a test application
func CreateTestApplication(t *testing.T, db *gorm.DB, orgID uuid.UUID) *models.Application {
	t.Helper()

	app := &models.Application{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganisationID: orgID,
		Name:           "app-" + uuid.New().String()[:8],
	}

	if err := db.Create(app).Error; err != nil {
		t.Fatalf("failed to create test application: %v", err)
	}

	return app
}

// CreateTestTag creates a test tag
func CreateTestTag(t *testing.T, db *gorm.DB) *models.Tag {
	t.Helper()

	tag := &models.Tag{
		Base: models.Base{
			ID: uuid.New(),
		},
		Name: "tag-" + uuid.New().String()[:8],
	}

	if err := db.Create(tag).Error; err != nil {
		t.Fatalf("failed to create test tag: %v", err)
	}

	return tag
}

// CreateTestMapping creates a test application-environment-tag mapping
func CreateTestMapping(t *testing.T, db *gorm.DB, appID, tagID, envID uuid.UUID) *models.ApplicationEnvironmentTag {
	t.Helper()

	mapping := &models.ApplicationEnvironmentTag{
		Base: models.Base{
			ID: uuid.New(),
		},
		ApplicationID: appID,
		TagID:         tagID,
		EnvironmentID: envID,
	}

	if err := db.Create(mapping).Error; err != nil {
		t.Fatalf("failed to create test mapping: %v", err)
	}

	return mapping
}

// CreateTestSecret creates a test secret with the given provider version id
func CreateTestSecret(t *testing.T, db *gorm.DB, orgID uuid.UUID, currentVersionID string) *models.Secret {
	t.Helper()

	secret := &models.Secret{
		Base: models.Base{
			ID: uuid.New(),
		},
		OrganisationID:   orgID,
		SecretID:         "secret-" + uuid.New().String()[:8],
		CurrentVersionID: currentVersionID,
	}

	if err := db.Create(secret).Error; err != nil {
		t.Fatalf("failed to create test secret: %v", err)
	}

	return secret
}

// JSONRequest creates an HTTP request with a JSON body
func JSONRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	return req
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
