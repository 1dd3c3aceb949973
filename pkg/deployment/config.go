package deployment

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type PredictorKind string

const (
	PredictorStock   PredictorKind = "stock"
	PredictorPyTorch PredictorKind = "pytorch"
	PredictorCustom  PredictorKind = "custom"
)

type ResourceRequirements struct {
	Requests map[string]string `json:"requests,omitempty"`
	Limits   map[string]string `json:"limits,omitempty"`
}

// ContainerSpec describes the container of a custom predictor.
type ContainerSpec struct {
	Name       string   `json:"name"`
	Image      string   `json:"image"`
	Command    []string `json:"command"`
	StorageURI string   `json:"storage_uri"`
}

// TorchServeArchive lists the files to package into a TorchServe model
// archive. All paths are absolute.
type TorchServeArchive struct {
	ModelClass       string   `json:"model_class"`
	Handler          string   `json:"handler"`
	ExtraFiles       []string `json:"extra_files,omitempty"`
	RequirementsFile string   `json:"requirements_file,omitempty"`
	ModelVersion     string   `json:"model_version"`
	TorchConfig      string   `json:"torch_config,omitempty"`
}

// ServiceConfig is the desired state of one model server.
type ServiceConfig struct {
	ModelName      string                `json:"model_name"`
	ModelURI       string                `json:"model_uri,omitempty"`
	Predictor      string                `json:"predictor"`
	Replicas       int32                 `json:"replicas"`
	Resources      *ResourceRequirements `json:"resources,omitempty"`
	Container      *ContainerSpec        `json:"container,omitempty"`
	TorchServe     *TorchServeArchive    `json:"torch_serve,omitempty"`
	SecretName     string                `json:"secret_name,omitempty"`
	ServiceAccount string                `json:"service_account,omitempty"`

	PipelineName     string `json:"pipeline_name,omitempty"`
	PipelineRunID    string `json:"pipeline_run_id,omitempty"`
	PipelineStepName string `json:"pipeline_step_name,omitempty"`
}

func (c ServiceConfig) Kind() PredictorKind {
	switch PredictorKind(c.Predictor) {
	case PredictorPyTorch:
		return PredictorPyTorch
	case PredictorCustom:
		return PredictorCustom
	}
	return PredictorStock
}

func (c ServiceConfig) Identity() ServiceIdentity {
	return NewServiceIdentity(c.PipelineName, c.PipelineStepName, c.ModelName)
}

func (c ServiceConfig) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// Predictors lists the predictor names served by KServe, sorted.
var Predictors = []string{
	"custom",
	"lightgbm",
	"onnx",
	"paddle",
	"pmml",
	"pytorch",
	"sklearn",
	"tensorflow",
	"triton",
	"xgboost",
}

func IsSupportedPredictor(name string) bool {
	i := sort.SearchStrings(Predictors, name)
	return i < len(Predictors) && Predictors[i] == name
}

// Validate checks the structural invariants of the config and returns a
// ConfigValidation error listing every violation.
func (c ServiceConfig) Validate() error {
	return ValidationError(append(c.CommonErrors(), c.ContainerErrors()...))
}

// CommonErrors checks the fields shared by every predictor kind.
func (c ServiceConfig) CommonErrors() field.ErrorList {
	var errs field.ErrorList
	if c.ModelName == "" {
		errs = append(errs, field.Required(field.NewPath("model_name"), ""))
	}
	switch {
	case c.Predictor == "":
		errs = append(errs, field.Required(field.NewPath("predictor"), ""))
	case !IsSupportedPredictor(c.Predictor):
		errs = append(errs, field.NotSupported(field.NewPath("predictor"), c.Predictor, Predictors))
	}
	if c.Replicas <= 0 {
		errs = append(errs, field.Invalid(field.NewPath("replicas"), c.Replicas, "must be positive"))
	}
	if _, err := c.Resources.ResourceRequirements(); err != nil {
		errs = append(errs, field.Invalid(field.NewPath("resources"), c.Resources, err.Error()))
	}
	return errs
}

// ContainerErrors checks that only custom predictors carry a complete
// container.
func (c ServiceConfig) ContainerErrors() field.ErrorList {
	var errs field.ErrorList
	if c.Kind() == PredictorCustom && c.Container == nil {
		errs = append(errs, field.Required(field.NewPath("container"), "custom predictor requires a container"))
	}
	if c.Kind() != PredictorCustom && c.Container != nil {
		errs = append(errs, field.Forbidden(field.NewPath("container"), "container is only allowed for custom predictor"))
	}
	if c.Container != nil {
		if c.Container.Image == "" {
			errs = append(errs, field.Required(field.NewPath("container", "image"), ""))
		}
		if len(c.Container.Command) == 0 {
			errs = append(errs, field.Required(field.NewPath("container", "command"), ""))
		}
	}
	return errs
}

// ValidationError converts a non-empty field error list into a
// ConfigValidation error.
func ValidationError(errs field.ErrorList) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.ConfigValidation("Invalid service configuration: %v", errs.ToAggregate().Error())
}

// ResourceRequirements parses quantities into Kubernetes form. A nil
// receiver yields nil.
func (r *ResourceRequirements) ResourceRequirements() (*v1.ResourceRequirements, error) {
	if r == nil {
		return nil, nil
	}
	requests, err := resourceList(r.Requests)
	if err != nil {
		return nil, fmt.Errorf("requests: %v", err)
	}
	limits, err := resourceList(r.Limits)
	if err != nil {
		return nil, fmt.Errorf("limits: %v", err)
	}
	return &v1.ResourceRequirements{Requests: requests, Limits: limits}, nil
}

func resourceList(values map[string]string) (v1.ResourceList, error) {
	if len(values) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make(v1.ResourceList, len(values))
	for _, k := range keys {
		q, err := resource.ParseQuantity(values[k])
		if err != nil {
			return nil, fmt.Errorf("%v=%q: %v", k, values[k], err)
		}
		list[v1.ResourceName(k)] = q
	}
	return list, nil
}
