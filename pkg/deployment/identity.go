package deployment

import (
	"fmt"

	"github.com/kuberlab/kserve-deployer/pkg/types"
	"github.com/kuberlab/kserve-deployer/pkg/utils"
)

// ServiceIdentity names the service that serves a model deployed by a step
// of a pipeline. Two identities are equal iff all fields are equal.
type ServiceIdentity struct {
	PipelineName     string `json:"pipeline_name"`
	PipelineStepName string `json:"pipeline_step_name"`
	ModelName        string `json:"model_name"`
}

func NewServiceIdentity(pipelineName, stepName, modelName string) ServiceIdentity {
	return ServiceIdentity{
		PipelineName:     pipelineName,
		PipelineStepName: stepName,
		ModelName:        modelName,
	}
}

func (id ServiceIdentity) String() string {
	return fmt.Sprintf("%v/%v/%v", id.PipelineName, id.PipelineStepName, id.ModelName)
}

// Labels are lossy: use them to select candidates, and compare the full
// identity afterwards.
func (id ServiceIdentity) Labels() map[string]string {
	return map[string]string{
		types.PipelineNameLabel:     utils.KubeLabelEncode(id.PipelineName),
		types.PipelineStepNameLabel: utils.KubeLabelEncode(id.PipelineStepName),
		types.ModelNameLabel:        utils.KubeLabelEncode(id.ModelName),
	}
}
