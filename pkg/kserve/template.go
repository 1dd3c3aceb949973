package kserve

import (
	"fmt"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/kubernetes"
	"github.com/kuberlab/kserve-deployer/pkg/store"
	"github.com/kuberlab/kserve-deployer/pkg/types"
	"github.com/kuberlab/kserve-deployer/pkg/utils"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var InferenceServiceGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

const StorageURIEnv = utils.StorageURI

const inferenceServiceTpl = `
apiVersion: serving.kserve.io/v1beta1
kind: InferenceService
metadata:
  name: {{ .Name | quote }}
  namespace: {{ .Namespace | quote }}
  labels:
{{ toYaml .Labels | trim | indent 4 }}
  annotations:
{{ toYaml .Annotations | trim | indent 4 }}
spec:
  predictor:
    minReplicas: {{ .Config.Replicas }}
    {{- if .Config.ServiceAccount }}
    serviceAccountName: {{ .Config.ServiceAccount | quote }}
    {{- end }}
    {{- with .Config.Container }}
    containers:
    - name: {{ .Name | default "kserve-container" | quote }}
      image: {{ .Image | quote }}
      command:
{{ toYaml .Command | trim | indent 6 }}
      env:
      - name: {{ $.StorageEnv }}
        value: {{ .StorageURI | quote }}
      {{- if $.Config.SecretName }}
      envFrom:
      - secretRef:
          name: {{ $.Config.SecretName | quote }}
      {{- end }}
      {{- if $.Resources }}
      resources:
{{ toYaml $.Resources | trim | indent 8 }}
      {{- end }}
    {{- else }}
    {{ .Config.Predictor }}:
      storageUri: {{ .Config.ModelURI | quote }}
      {{- if .Config.SecretName }}
      envFrom:
      - secretRef:
          name: {{ .Config.SecretName | quote }}
      {{- end }}
      {{- if .Resources }}
      resources:
{{ toYaml .Resources | trim | indent 8 }}
      {{- end }}
    {{- end }}
`

// ResourceName is the InferenceService name for a new record.
func ResourceName(modelName, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return utils.KubeDeploymentEncode(fmt.Sprintf("%v-%v", modelName, id))
}

// InferenceService renders the InferenceService of record from config.
func InferenceService(record *store.ServiceRecord, config deployment.ServiceConfig) (*kubernetes.KubeResource, error) {
	resources, err := config.Resources.ResourceRequirements()
	if err != nil {
		return nil, err
	}
	labels := utils.JoinMaps(
		map[string]string{
			types.ServiceIDLabel:     record.UUID,
			types.ComponentTypeLabel: types.ComponentTypeModelServer,
			types.ManagedByLabel:     types.ManagedBy,
		},
		config.Identity().Labels(),
	)
	annotations := map[string]string{
		types.ServiceConfigAnnotation: config.String(),
		types.PipelineRunAnnotation:   config.PipelineRunID,
	}
	vars := map[string]interface{}{
		"Name":        record.ResourceName,
		"Namespace":   record.Namespace,
		"Labels":      labels,
		"Annotations": annotations,
		"Config":      config,
		"Resources":   resources,
		"StorageEnv":  StorageURIEnv,
	}
	name := fmt.Sprintf("%v/%v:InferenceService", record.Namespace, record.ResourceName)
	return kubernetes.GetTemplatedResource(inferenceServiceTpl, name, InferenceServiceGVR, vars)
}
