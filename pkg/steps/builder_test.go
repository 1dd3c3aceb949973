package steps

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/kuberlab/kserve-deployer/pkg/plugins"
)

func Assert(want, got interface{}, t *testing.T) {
	if !reflect.DeepEqual(want, got) {
		_, file, line, _ := runtime.Caller(1)
		splitted := strings.Split(file, string(os.PathSeparator))
		t.Fatalf("%v:%v: Failed: got %v, want %v", splitted[len(splitted)-1], line, got, want)
	}
}

const root = "/srv/project"

func customStepConfig(fn string) DeployerStepConfig {
	return DeployerStepConfig{
		ServiceConfig: deployment.ServiceConfig{ModelName: "fraud-model", Predictor: "custom", Replicas: 1},
		Custom:        &CustomDeployParameters{PredictFunction: fn},
		Timeout:       60,
	}
}

func TestEntrypointCommand(t *testing.T) {
	Assert(
		[]string{ModelServerRuntime, "-m", "custom", "--model_name", "m", "--predict_func", "f"},
		EntrypointCommand("m", "f"),
		t,
	)
}

func TestBuildCustom(t *testing.T) {
	b := &Builder{SourceRoot: root, DefaultImage: "registry/custom-model:1"}

	cfg, err := b.Build("s3://models/fraud/2", "s3://out", customStepConfig(plugins.EchoPredictFunc))
	if err != nil {
		t.Fatal(err)
	}
	Assert(&deployment.ContainerSpec{
		Name:       "fraud-model",
		Image:      "registry/custom-model:1",
		Command:    EntrypointCommand("fraud-model", plugins.EchoPredictFunc),
		StorageURI: "s3://models/fraud/2",
	}, cfg.Container, t)
	Assert("s3://models/fraud/2", cfg.ModelURI, t)

	withImage := customStepConfig(plugins.EchoPredictFunc)
	withImage.Custom.Image = "my/image:2"
	cfg, err = b.Build("s3://m", "s3://out", withImage)
	Assert(nil, err, t)
	Assert("my/image:2", cfg.Container.Image, t)
}

func TestBuildCustomUnknownFunction(t *testing.T) {
	b := &Builder{SourceRoot: root, DefaultImage: "img"}
	_, err := b.Build("s3://m", "s3://out", customStepConfig("pkg.mod.nonexistent_fn"))
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "predict_function"), t)
}

func TestBuildCustomAggregatesErrors(t *testing.T) {
	b := &Builder{SourceRoot: root}
	err := b.Validate(customStepConfig(""))
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "predict_function"), t)
	Assert(true, strings.Contains(err.Error(), "image"), t)

	missing := customStepConfig("")
	missing.Custom = nil
	err = b.Validate(missing)
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "custom_deploy_parameters"), t)
}

func torchStepConfig(params *TorchServeParameters) DeployerStepConfig {
	return DeployerStepConfig{
		ServiceConfig: deployment.ServiceConfig{ModelName: "digits", Predictor: "pytorch", Replicas: 1},
		TorchServe:    params,
	}
}

func TestBuildTorchServe(t *testing.T) {
	b := &Builder{SourceRoot: root}
	cfg, err := b.Build("/data/digits/model", "/data/digits/archive", torchStepConfig(&TorchServeParameters{
		ModelClass:  "models/net.py",
		Handler:     "image_classifier",
		ExtraFiles:  []string{"index.json", "/srv/project/vocab.txt"},
		TorchConfig: "conf/config.properties",
	}))
	if err != nil {
		t.Fatal(err)
	}
	Assert("/data/digits/archive", cfg.ModelURI, t)
	Assert(true, cfg.Container == nil, t)
	Assert(&deployment.TorchServeArchive{
		ModelClass:   "/srv/project/models/net.py",
		Handler:      "image_classifier",
		ExtraFiles:   []string{"/srv/project/index.json", "/srv/project/vocab.txt"},
		ModelVersion: DefaultModelVersion,
		TorchConfig:  "/srv/project/conf/config.properties",
	}, cfg.TorchServe, t)

	cfg, err = b.Build("file:///data/digits/model", "file:///data/digits/out", torchStepConfig(&TorchServeParameters{
		ModelClass:   "net.py",
		Handler:      "handlers/custom.py",
		ModelVersion: "2.0",
	}))
	Assert(nil, err, t)
	Assert("/srv/project/handlers/custom.py", cfg.TorchServe.Handler, t)
	Assert("2.0", cfg.TorchServe.ModelVersion, t)
}

func TestBuildTorchServeOutsideRoot(t *testing.T) {
	b := &Builder{SourceRoot: root}
	cases := map[string]*TorchServeParameters{
		"model_class":            {ModelClass: "../net.py", Handler: "image_classifier"},
		"handler":                {ModelClass: "net.py", Handler: "/etc/handler.py"},
		"extra_files[1]":         {ModelClass: "net.py", Handler: "text_classifier", ExtraFiles: []string{"ok.txt", "../../x"}},
		"torch_config":           {ModelClass: "net.py", Handler: "object_detector", TorchConfig: "/srv/project-other/c"},
		"torch_serve_parameters": nil,
	}
	for fieldName, params := range cases {
		_, err := b.Build("/data/m", "/data/out", torchStepConfig(params))
		if !errors.IsReason(err, errors.ReasonConfigValidation) {
			t.Fatalf("%v: expected validation error, got %v", fieldName, err)
		}
		if !strings.Contains(err.Error(), fieldName) {
			t.Fatalf("%v: not reported in %v", fieldName, err)
		}
	}

	_, err := b.Build("/data/m", "/data/out", torchStepConfig(&TorchServeParameters{}))
	Assert(true, strings.Contains(err.Error(), "model_class"), t)
	Assert(true, strings.Contains(err.Error(), "handler"), t)

	// The root itself is not a file inside it.
	_, err = b.Build("/data/m", "/data/out", torchStepConfig(&TorchServeParameters{ModelClass: ".", Handler: "image_classifier"}))
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "model_class"), t)
}

func TestBuildTorchServeSymlinkOutsideRoot(t *testing.T) {
	base, err := ioutil.TempDir("", "builder")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)
	root := filepath.Join(base, "project")
	outside := filepath.Join(base, "outside")
	for _, dir := range []string{root, outside} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	ioutil.WriteFile(filepath.Join(outside, "secret.py"), []byte("x"), 0644)
	ioutil.WriteFile(filepath.Join(root, "net.py"), []byte("x"), 0644)
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "net.py"), filepath.Join(root, "alias.py")); err != nil {
		t.Fatal(err)
	}

	b := &Builder{SourceRoot: root}
	_, err = b.Build("/data/m", "/data/out", torchStepConfig(&TorchServeParameters{
		ModelClass: "link/secret.py",
		Handler:    "image_classifier",
	}))
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "model_class"), t)

	// A link that stays inside the root resolves to its target.
	cfg, err := b.Build("/data/m", "/data/out", torchStepConfig(&TorchServeParameters{
		ModelClass: "alias.py",
		Handler:    "image_classifier",
	}))
	if err != nil {
		t.Fatal(err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	Assert(filepath.Join(realRoot, "net.py"), cfg.TorchServe.ModelClass, t)
}

func TestBuildTorchServeLocations(t *testing.T) {
	b := &Builder{SourceRoot: root}
	params := &TorchServeParameters{ModelClass: "net.py", Handler: "image_classifier"}

	_, err := b.Build("/data/m", "", torchStepConfig(params))
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "output_uri"), t)

	_, err = b.Build("s3://models/m", "gs://out", torchStepConfig(params))
	Assert(true, strings.Contains(err.Error(), "model_uri"), t)
	Assert(true, strings.Contains(err.Error(), "output_uri"), t)

	// Locations are only known at run time.
	Assert(nil, b.Validate(torchStepConfig(params)), t)
}

func TestBuildAggregatesCommonErrors(t *testing.T) {
	b := &Builder{SourceRoot: root, DefaultImage: "img"}
	cfg := customStepConfig("")
	cfg.ServiceConfig.Replicas = 0
	err := b.Validate(cfg)
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "predict_function"), t)
	Assert(true, strings.Contains(err.Error(), "replicas"), t)
	// The missing container follows from the invalid parameters.
	Assert(false, strings.Contains(err.Error(), "custom predictor requires a container"), t)
}

func TestBuildUnsupportedPredictor(t *testing.T) {
	registry := &countingRegistry{}
	step := NewDeployerStep(deployment.NewReconciler(registry), &Builder{SourceRoot: root})
	env := StepEnvironment{PipelineName: "fraud-pipe", PipelineRunID: "run-7", StepName: "eval_step"}
	cfg := DeployerStepConfig{
		ServiceConfig: deployment.ServiceConfig{ModelName: "iris", Predictor: "caffe", Replicas: 1},
	}

	// The reuse path must not hide an unsupported predictor.
	_, err := step.Run(context.Background(), env, false, cfg, "gs://models/iris", "")
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(true, strings.Contains(err.Error(), "caffe"), t)
	Assert(0, registry.finds, t)
}

func TestBuildStock(t *testing.T) {
	b := &Builder{SourceRoot: root}
	cfg, err := b.Build("gs://models/iris", "s3://out", DeployerStepConfig{
		ServiceConfig: deployment.ServiceConfig{ModelName: "iris", Predictor: "sklearn", Replicas: 1},
	})
	Assert(nil, err, t)
	Assert("gs://models/iris", cfg.ModelURI, t)
	Assert(true, cfg.Container == nil, t)

	_, err = b.Build("gs://models/iris", "s3://out", DeployerStepConfig{
		ServiceConfig: deployment.ServiceConfig{ModelName: "iris", Predictor: "sklearn"},
	})
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
}

func TestParseStepConfig(t *testing.T) {
	conf, err := ParseStepConfig([]byte(`
service_config:
  model_name: digits
  predictor: pytorch
  resources:
    requests:
      cpu: 200m
torch_serve_parameters:
  model_class: net.py
  handler: image_classifier
`))
	if err != nil {
		t.Fatal(err)
	}
	Assert(DefaultTimeoutSeconds, conf.Timeout, t)
	Assert(300*time.Second, conf.TimeoutDuration(), t)
	Assert(int32(1), conf.ServiceConfig.Replicas, t)
	Assert("200m", conf.ServiceConfig.Resources.Requests["cpu"], t)
	Assert(DefaultModelVersion, conf.TorchServe.ModelVersion, t)
	Assert(true, conf.Custom == nil, t)

	conf, err = ParseStepConfig([]byte(`{"service_config": {"model_name": "m", "predictor": "custom", "replicas": 3}, "custom_deploy_parameters": {"predict_function": "builtin.echo"}, "timeout": 0}`))
	Assert(nil, err, t)
	Assert(0, conf.Timeout, t)
	Assert(time.Duration(0), conf.TimeoutDuration(), t)
	Assert(int32(3), conf.ServiceConfig.Replicas, t)
	Assert("builtin.echo", conf.Custom.PredictFunction, t)

	_, err = ParseStepConfig([]byte("service_config: ["))
	Assert(true, err != nil, t)
}

func TestLoadStepConfig(t *testing.T) {
	f, err := ioutil.TempFile("", "step-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString("service_config:\n  model_name: iris\n  predictor: sklearn\ntimeout: 10\n")
	f.Close()

	conf, err := LoadStepConfig(f.Name())
	Assert(nil, err, t)
	Assert(10, conf.Timeout, t)
	Assert("iris", conf.ServiceConfig.ModelName, t)

	_, err = LoadStepConfig(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	Assert(true, err != nil, t)
}

type countingRegistry struct {
	finds   int
	deploys []deployment.ServiceConfig
}

type staticService struct {
	config deployment.ServiceConfig
}

func (s *staticService) Identity() deployment.ServiceIdentity { return s.config.Identity() }
func (s *staticService) Config() deployment.ServiceConfig     { return s.config }
func (s *staticService) IsRunning() bool                      { return true }
func (s *staticService) PredictionURL() string                { return "http://ingress/v1/models/m:predict" }
func (s *staticService) PredictionHostname() string           { return "m.kserve.example.com" }

func (s *staticService) Start(ctx context.Context, timeout time.Duration) error { return nil }
func (s *staticService) Stop(ctx context.Context, timeout time.Duration) error  { return nil }

func (r *countingRegistry) Find(ctx context.Context, id deployment.ServiceIdentity) ([]deployment.Service, error) {
	r.finds++
	return nil, nil
}

func (r *countingRegistry) Deploy(ctx context.Context, config deployment.ServiceConfig, replace bool, timeout time.Duration) (deployment.Service, error) {
	r.deploys = append(r.deploys, config)
	return &staticService{config: config}, nil
}

func TestRunDeployerStep(t *testing.T) {
	registry := &countingRegistry{}
	reconciler := deployment.NewReconciler(registry)
	builder := &Builder{SourceRoot: root, DefaultImage: "img"}
	env := StepEnvironment{PipelineName: "fraud-pipe", PipelineRunID: "run-7", StepName: "eval_step"}

	service, err := RunDeployerStep(context.Background(), reconciler, env, false, customStepConfig(plugins.EchoPredictFunc), builder, "s3://m", "s3://out")
	if err != nil {
		t.Fatal(err)
	}
	Assert(1, registry.finds, t)
	Assert(1, len(registry.deploys), t)
	Assert(deployment.NewServiceIdentity("fraud-pipe", "eval_step", "fraud-model"), service.Identity(), t)
	Assert("run-7", registry.deploys[0].PipelineRunID, t)
	Assert(time.Duration(60)*time.Second, customStepConfig("").TimeoutDuration(), t)
}

func TestRunDeployerStepValidatesFirst(t *testing.T) {
	registry := &countingRegistry{}
	step := NewDeployerStep(deployment.NewReconciler(registry), &Builder{SourceRoot: root, DefaultImage: "img"})
	env := StepEnvironment{PipelineName: "fraud-pipe", PipelineRunID: "run-7", StepName: "eval_step"}

	service, err := step.Run(context.Background(), env, true, customStepConfig("pkg.mod.nonexistent_fn"), "s3://m", "s3://out")
	Assert(nil, service, t)
	Assert(true, errors.IsReason(err, errors.ReasonConfigValidation), t)
	Assert(0, registry.finds, t)
	Assert(0, len(registry.deploys), t)
}

func TestRunDeployerStepStagesTorchServe(t *testing.T) {
	base, err := ioutil.TempDir("", "step")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)
	source := filepath.Join(base, "src")
	modelDir := filepath.Join(base, "model")
	output := filepath.Join(base, "out")
	os.MkdirAll(source, 0755)
	os.MkdirAll(modelDir, 0755)
	ioutil.WriteFile(filepath.Join(source, "net.py"), []byte("class Net: pass\n"), 0644)
	ioutil.WriteFile(filepath.Join(modelDir, "model.pt"), []byte("weights"), 0644)

	registry := &countingRegistry{}
	step := NewDeployerStep(deployment.NewReconciler(registry), &Builder{SourceRoot: source})
	env := StepEnvironment{PipelineName: "digits-pipe", PipelineRunID: "run-1", StepName: "deploy"}
	cfg := torchStepConfig(&TorchServeParameters{ModelClass: "net.py", Handler: "image_classifier", ModelVersion: "1.0"})

	if _, err := step.Run(context.Background(), env, true, cfg, modelDir, output); err != nil {
		t.Fatal(err)
	}
	Assert(1, len(registry.deploys), t)
	Assert(output, registry.deploys[0].ModelURI, t)
	for _, p := range []string{"config/config.properties", "model-store/digits.mar"} {
		if _, err := os.Stat(filepath.Join(output, p)); err != nil {
			t.Fatalf("%v is not staged: %v", p, err)
		}
	}

	// Staging failures are deployment errors and nothing is deployed.
	os.Remove(filepath.Join(modelDir, "model.pt"))
	_, err = step.Run(context.Background(), env, true, cfg, modelDir, output)
	Assert(true, errors.IsReason(err, errors.ReasonDeployment), t)
	Assert(1, len(registry.deploys), t)
}
