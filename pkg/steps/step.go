package steps

import (
	"context"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/kuberlab/kserve-deployer/pkg/torchserve"
	"github.com/sirupsen/logrus"
)

// StepEnvironment identifies the pipeline step being run.
type StepEnvironment struct {
	PipelineName  string
	PipelineRunID string
	StepName      string
}

// DeployerStep deploys models with a reconciler.
type DeployerStep struct {
	Reconciler *deployment.Reconciler
	Builder    *Builder
}

func NewDeployerStep(reconciler *deployment.Reconciler, builder *Builder) *DeployerStep {
	return &DeployerStep{Reconciler: reconciler, Builder: builder}
}

// Run builds the service config for the model at modelURI and reconciles
// the model server of this step with the deploy decision. The config is
// validated before the registry is contacted. A pytorch model is staged as
// a TorchServe model store at outputURI first.
func (s *DeployerStep) Run(ctx context.Context, env StepEnvironment, decision bool, cfg DeployerStepConfig, modelURI, outputURI string) (deployment.Service, error) {
	desired, err := s.Builder.Build(modelURI, outputURI, cfg)
	if err != nil {
		return nil, err
	}
	if desired.TorchServe != nil {
		if err := torchserve.Stage(desired.TorchServe, desired.ModelName, modelURI, outputURI); err != nil {
			return nil, errors.Deployment(err, "Failed stage model store of %v", desired.ModelName)
		}
	}
	desired.PipelineName = env.PipelineName
	desired.PipelineRunID = env.PipelineRunID
	desired.PipelineStepName = env.StepName

	id := desired.Identity()
	service, err := s.Reconciler.Decide(ctx, decision, id, desired, cfg.TimeoutDuration())
	if err != nil {
		return nil, err
	}

	logrus.Infof(
		"KServe deployment service started and reachable at: %v with the hostname: %v",
		service.PredictionURL(), service.PredictionHostname(),
	)
	return service, nil
}

// RunDeployerStep is a shortcut for NewDeployerStep(reconciler, builder).Run.
func RunDeployerStep(ctx context.Context, reconciler *deployment.Reconciler, env StepEnvironment, decision bool, cfg DeployerStepConfig, builder *Builder, modelURI, outputURI string) (deployment.Service, error) {
	return NewDeployerStep(reconciler, builder).Run(ctx, env, decision, cfg, modelURI, outputURI)
}
