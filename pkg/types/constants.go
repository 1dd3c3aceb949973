package types

const (
	PipelineNameLabel     = "kuberlab.io/pipeline-name"
	PipelineStepNameLabel = "kuberlab.io/pipeline-step-name"
	ModelNameLabel        = "kuberlab.io/model-name"
	ServiceIDLabel        = "kuberlab.io/service-id"
	ComponentTypeLabel    = "kuberlab.io/component-type"
	ManagedByLabel        = "app.kubernetes.io/managed-by"

	ServiceConfigAnnotation = "kuberlab.io/service-config"
	PipelineRunAnnotation   = "kuberlab.io/pipeline-run-id"

	ComponentTypeModelServer = "model-server"
	ManagedBy                = "kserve-deployer"
)
