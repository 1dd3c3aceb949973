package deployment

import (
	"context"
	"time"

	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Reconciler converges the deployed model server for an identity with a
// deploy decision, keeping a server available whenever one existed.
type Reconciler struct {
	Registry Registry
}

func NewReconciler(registry Registry) *Reconciler {
	return &Reconciler{Registry: registry}
}

// Decide reuses the most recent existing service when deploy is false,
// starting it if needed. Otherwise, or when nothing exists yet, it deploys
// desired with replace semantics.
func (r *Reconciler) Decide(ctx context.Context, deploy bool, id ServiceIdentity, desired ServiceConfig, timeout time.Duration) (Service, error) {
	existing, err := r.Registry.Find(ctx, id)
	if err != nil {
		return nil, errors.Deployment(err, "Failed find model server %v", id)
	}

	if !deploy && len(existing) > 0 {
		logrus.Infof(
			"Skipping model deployment because the model quality does not meet the criteria. "+
				"Reusing the last model server deployed by step '%v' and pipeline '%v' for model '%v'",
			id.PipelineStepName, id.PipelineName, id.ModelName,
		)
		if len(existing) > 1 {
			logrus.Warningf("Found %v model servers for %v, using the most recent", len(existing), id)
		}
		service := existing[0]
		if !service.IsRunning() {
			logrus.Infof("Starting model server %v", id)
			if err := service.Start(ctx, timeout); err != nil {
				return nil, errors.Deployment(err, "Failed start model server %v", id)
			}
		}
		return service, nil
	}

	if !deploy {
		logrus.Infof("No model server found for %v, deploying the current model", id)
	}
	config := desired
	config.PipelineName = id.PipelineName
	config.PipelineStepName = id.PipelineStepName
	config.ModelName = id.ModelName

	service, err := r.Registry.Deploy(ctx, config, true, timeout)
	if err != nil {
		return nil, errors.Deployment(err, "Failed deploy model server %v", id)
	}
	return service, nil
}
