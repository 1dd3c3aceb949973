package steps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/plugins"
	"github.com/kuberlab/kserve-deployer/pkg/torchserve"
	"github.com/kuberlab/kserve-deployer/pkg/utils"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

const (
	// ModelServerRuntime is the model server binary inside the custom image.
	ModelServerRuntime = "/usr/local/bin/model-server"
	CustomModelModule  = "custom"
)

// EntrypointCommand is the container command that serves model with the
// registered predict function fn.
func EntrypointCommand(model, fn string) []string {
	return []string{
		ModelServerRuntime,
		"-m", CustomModelModule,
		"--model_name", model,
		"--predict_func", fn,
	}
}

// Builder turns a step configuration into the ServiceConfig to deploy.
type Builder struct {
	// SourceRoot bounds every file referenced by the configuration.
	SourceRoot string
	// DefaultImage is used by custom predictors that do not set an image.
	DefaultImage string
}

// Validate runs the checks of Build that do not depend on where the model
// artifact lives.
func (b *Builder) Validate(cfg DeployerStepConfig) error {
	_, errs := b.build("", "", cfg, false)
	return deployment.ValidationError(errs)
}

// Build validates cfg and returns the service config for the model stored
// at modelURI. outputURI is where a pytorch model store is staged.
// All violations are reported together.
func (b *Builder) Build(modelURI, outputURI string, cfg DeployerStepConfig) (deployment.ServiceConfig, error) {
	config, errs := b.build(modelURI, outputURI, cfg, true)
	if err := deployment.ValidationError(errs); err != nil {
		return deployment.ServiceConfig{}, err
	}
	return config, nil
}

func (b *Builder) build(modelURI, outputURI string, cfg DeployerStepConfig, checkURIs bool) (deployment.ServiceConfig, field.ErrorList) {
	config := cfg.ServiceConfig
	var errs field.ErrorList

	switch config.Kind() {
	case deployment.PredictorPyTorch:
		archive, torchErrs := b.torchArchive(cfg.TorchServe, field.NewPath("torch_serve_parameters"))
		errs = append(errs, torchErrs...)
		if checkURIs {
			errs = append(errs, torchStoreURIs(modelURI, outputURI)...)
		}
		config.TorchServe = archive
		config.ModelURI = outputURI
	case deployment.PredictorCustom:
		container, customErrs := b.customContainer(config.ModelName, modelURI, cfg.Custom, field.NewPath("custom_deploy_parameters"))
		errs = append(errs, customErrs...)
		config.Container = container
		config.ModelURI = modelURI
	default:
		config.ModelURI = modelURI
	}

	variantErrs := len(errs)
	errs = append(errs, config.CommonErrors()...)
	if variantErrs == 0 {
		errs = append(errs, config.ContainerErrors()...)
	}
	return config, errs
}

// torchStoreURIs checks that the model and the model store are on the local
// filesystem where the archive is packaged.
func torchStoreURIs(modelURI, outputURI string) field.ErrorList {
	var errs field.ErrorList
	if _, err := torchserve.LocalPath(modelURI); err != nil {
		errs = append(errs, field.Invalid(field.NewPath("model_uri"), modelURI, err.Error()))
	}
	if outputURI == "" {
		errs = append(errs, field.Required(field.NewPath("output_uri"), "pytorch predictor requires a location to stage the model store"))
	} else if _, err := torchserve.LocalPath(outputURI); err != nil {
		errs = append(errs, field.Invalid(field.NewPath("output_uri"), outputURI, err.Error()))
	}
	return errs
}

func (b *Builder) torchArchive(params *TorchServeParameters, path *field.Path) (*deployment.TorchServeArchive, field.ErrorList) {
	var errs field.ErrorList
	if params == nil {
		return nil, append(errs, field.Required(path, "pytorch predictor requires torch serve parameters"))
	}

	archive := &deployment.TorchServeArchive{ModelVersion: params.ModelVersion}
	if archive.ModelVersion == "" {
		archive.ModelVersion = DefaultModelVersion
	}

	if params.ModelClass == "" {
		errs = append(errs, field.Required(path.Child("model_class"), "model class file path is required"))
	} else if p, err := b.insideRoot(params.ModelClass); err != nil {
		errs = append(errs, field.Invalid(path.Child("model_class"), params.ModelClass, err.Error()))
	} else {
		archive.ModelClass = p
	}

	switch {
	case params.Handler == "":
		errs = append(errs, field.Required(path.Child("handler"), "handler is required"))
	case isTorchHandler(params.Handler):
		archive.Handler = params.Handler
	default:
		p, err := b.insideRoot(params.Handler)
		if err != nil {
			errs = append(errs, field.Invalid(
				path.Child("handler"), params.Handler,
				fmt.Sprintf("must be one of %v or a file inside the source root: %v", TorchHandlers, err),
			))
		} else {
			archive.Handler = p
		}
	}

	for i, f := range params.ExtraFiles {
		p, err := b.insideRoot(f)
		if err != nil {
			errs = append(errs, field.Invalid(path.Child("extra_files").Index(i), f, err.Error()))
			continue
		}
		archive.ExtraFiles = append(archive.ExtraFiles, p)
	}

	if params.RequirementsFile != "" {
		if p, err := b.insideRoot(params.RequirementsFile); err != nil {
			errs = append(errs, field.Invalid(path.Child("requirements_file"), params.RequirementsFile, err.Error()))
		} else {
			archive.RequirementsFile = p
		}
	}

	if params.TorchConfig != "" {
		if p, err := b.insideRoot(params.TorchConfig); err != nil {
			errs = append(errs, field.Invalid(path.Child("torch_config"), params.TorchConfig, err.Error()))
		} else {
			archive.TorchConfig = p
		}
	}
	return archive, errs
}

func (b *Builder) customContainer(modelName, modelURI string, params *CustomDeployParameters, path *field.Path) (*deployment.ContainerSpec, field.ErrorList) {
	var errs field.ErrorList
	if params == nil {
		return nil, append(errs, field.Required(path, "custom predictor requires custom deploy parameters"))
	}

	if params.PredictFunction == "" {
		errs = append(errs, field.Required(path.Child("predict_function"), "predict function is required"))
	} else if _, err := plugins.LookupPredictFunc(params.PredictFunction); err != nil {
		errs = append(errs, field.NotSupported(path.Child("predict_function"), params.PredictFunction, plugins.PredictFuncs()))
	}

	image := params.Image
	if image == "" {
		image = b.DefaultImage
	}
	if image == "" {
		errs = append(errs, field.Required(path.Child("image"), "no image given and no default custom model image configured"))
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &deployment.ContainerSpec{
		Name:       utils.KubeDeploymentEncode(modelName),
		Image:      image,
		Command:    EntrypointCommand(modelName, params.PredictFunction),
		StorageURI: modelURI,
	}, nil
}

// insideRoot resolves p against the source root, following symlinks, and
// fails unless the result lies strictly below the root.
func (b *Builder) insideRoot(p string) (string, error) {
	root, err := filepath.Abs(b.SourceRoot)
	if err != nil {
		return "", err
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	if root, err = resolvePath(root); err != nil {
		return "", err
	}
	if abs, err = resolvePath(abs); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path is not inside the source root %v", root)
	}
	return abs, nil
}

// resolvePath cleans the absolute path p and follows symlinks in its longest
// existing prefix. Missing trailing elements are kept as they are.
func resolvePath(p string) (string, error) {
	var missing []string
	dir := filepath.Clean(p)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if _, lerr := os.Lstat(dir); !os.IsNotExist(lerr) {
			// Exists but cannot be resolved, e.g. a dangling symlink.
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(p), nil
		}
		missing = append([]string{filepath.Base(dir)}, missing...)
		dir = parent
	}
}

func isTorchHandler(h string) bool {
	for _, handler := range TorchHandlers {
		if handler == h {
			return true
		}
	}
	return false
}
