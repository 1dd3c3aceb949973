package steps

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
	"github.com/kuberlab/kserve-deployer/pkg/deployment"
)

const (
	DefaultTimeoutSeconds = 300
	DefaultModelVersion   = "1.0"
)

// TorchHandlers are the handlers shipped with TorchServe. They are passed
// through by name instead of being resolved as files.
var TorchHandlers = []string{
	"image_classifier",
	"image_segmenter",
	"object_detector",
	"text_classifier",
}

// TorchServeParameters configure the model archive of a pytorch predictor.
// Paths are relative to the source root unless absolute.
type TorchServeParameters struct {
	ModelClass       string   `json:"model_class"`
	Handler          string   `json:"handler"`
	ExtraFiles       []string `json:"extra_files,omitempty"`
	RequirementsFile string   `json:"requirements_file,omitempty"`
	ModelVersion     string   `json:"model_version,omitempty"`
	TorchConfig      string   `json:"torch_config,omitempty"`
}

type CustomDeployParameters struct {
	PredictFunction string `json:"predict_function"`
	Image           string `json:"image,omitempty"`
}

// DeployerStepConfig is the configuration of the deployer step.
type DeployerStepConfig struct {
	ServiceConfig deployment.ServiceConfig `json:"service_config"`
	TorchServe    *TorchServeParameters    `json:"torch_serve_parameters,omitempty"`
	Custom        *CustomDeployParameters  `json:"custom_deploy_parameters,omitempty"`
	// Timeout in seconds for start and stop. Zero means do not wait.
	Timeout int `json:"timeout"`
}

func (c DeployerStepConfig) TimeoutDuration() time.Duration {
	if c.Timeout < 0 {
		return 0
	}
	return time.Duration(c.Timeout) * time.Second
}

// ParseStepConfig reads a YAML or JSON step configuration. An absent
// timeout defaults to DefaultTimeoutSeconds and absent replicas to 1.
func ParseStepConfig(data []byte) (*DeployerStepConfig, error) {
	conf := &DeployerStepConfig{Timeout: DefaultTimeoutSeconds}
	conf.ServiceConfig.Replicas = 1
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("Failed parse step configuration: %v", err)
	}
	if conf.TorchServe != nil && conf.TorchServe.ModelVersion == "" {
		conf.TorchServe.ModelVersion = DefaultModelVersion
	}
	return conf, nil
}

func LoadStepConfig(fileName string) (*DeployerStepConfig, error) {
	data, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("Failed read step configuration: %v", err)
	}
	return ParseStepConfig(data)
}
