package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsmith/cloudbase/internal/database/models"
)

// ProvisionResult is what a provisioner reports back for a successful
// create or update. The core consumes it as a state update; the actual
// cloud calls live behind this interface.
type ProvisionResult struct {
	VpcID  string
	Region string
}

// Provisioner executes the long-running cloud-side work for an
// environment. Implementations wrap provider tooling; errors feed the
// lifecycle machine's failure edges.
type Provisioner interface {
	Provision(ctx context.Context, env *models.Environment) (*ProvisionResult, error)
	Apply(ctx context.Context, env *models.Environment, changes map[string]any) (*ProvisionResult, error)
	Teardown(ctx context.Context, env *models.Environment) error
}

// StubProvisioner reports success without touching any provider. Used
// in development and tests.
type StubProvisioner struct {
	logger *slog.Logger
}

func NewStubProvisioner(logger *slog.Logger) *StubProvisioner {
	return &StubProvisioner{logger: logger}
}

func (p *StubProvisioner) Provision(ctx context.Context, env *models.Environment) (*ProvisionResult, error) {
	p.logger.Info("stub provision", "environment_id", env.ID, "name", env.Name)
	region := env.Region
	if region == "" {
		region = "us-east-1"
	}
	return &ProvisionResult{
		VpcID:  fmt.Sprintf("vpc-%.8s", env.ID.String()),
		Region: region,
	}, nil
}

func (p *StubProvisioner) Apply(ctx context.Context, env *models.Environment, changes map[string]any) (*ProvisionResult, error) {
	p.logger.Info("stub apply", "environment_id", env.ID, "changes", len(changes))
	return &ProvisionResult{Region: env.Region}, nil
}

func (p *StubProvisioner) Teardown(ctx context.Context, env *models.Environment) error {
	p.logger.Info("stub teardown", "environment_id", env.ID)
	return nil
}
