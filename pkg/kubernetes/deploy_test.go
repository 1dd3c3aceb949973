package kubernetes

import (
	"context"
	"os"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	kruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic/fake"
)

var testGVR = schema.GroupVersionResource{Group: "serving.kserve.io", Version: "v1beta1", Resource: "inferenceservices"}

const testTpl = `
apiVersion: serving.kserve.io/v1beta1
kind: InferenceService
metadata:
  name: "{{ .Name }}"
  namespace: "{{ .Namespace }}"
  labels:
    {{- range $key, $value := .Labels }}
    {{ $key }}: "{{ $value }}"
    {{- end }}
spec:
  predictor:
    minReplicas: {{ .Replicas }}
    sklearn:
      storageUri: {{ .URI | quote }}
`

func Assert(want, got interface{}, t *testing.T) {
	if !reflect.DeepEqual(want, got) {
		_, file, line, _ := runtime.Caller(1)
		splitted := strings.Split(file, string(os.PathSeparator))
		t.Fatalf("%v:%v: Failed: got %v, want %v", splitted[len(splitted)-1], line, got, want)
	}
}

func newFakeClient(objects ...kruntime.Object) *fake.FakeDynamicClient {
	return fake.NewSimpleDynamicClientWithCustomListKinds(
		kruntime.NewScheme(),
		map[schema.GroupVersionResource]string{testGVR: "InferenceServiceList"},
		objects...,
	)
}

func renderTest(t *testing.T, uri string) *KubeResource {
	res, err := GetTemplatedResource(testTpl, "mnist:isvc", testGVR, map[string]interface{}{
		"Name":      "mnist",
		"Namespace": "models",
		"Labels":    map[string]string{"a": "b"},
		"Replicas":  2,
		"URI":       uri,
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func readyObject(name, namespace string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "serving.kserve.io/v1beta1",
		"kind":       "InferenceService",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
		},
		"spec": map[string]interface{}{},
		"status": map[string]interface{}{
			"url": "http://mnist.models.example.com",
			"conditions": []interface{}{
				map[string]interface{}{"type": "PredictorReady", "status": "True"},
				map[string]interface{}{"type": "Ready", "status": "True"},
			},
		},
	}}
	return obj
}

func TestGetTemplatedResource(t *testing.T) {
	res := renderTest(t, "gs://bucket/model")

	Assert("mnist:isvc", res.Name, t)
	Assert("InferenceService", res.Object.GetKind(), t)
	Assert("models", res.Object.GetNamespace(), t)
	Assert(map[string]string{"a": "b"}, res.Object.GetLabels(), t)
	uri, _, _ := unstructured.NestedString(res.Object.Object, "spec", "predictor", "sklearn", "storageUri")
	Assert("gs://bucket/model", uri, t)
	replicas, _, _ := unstructured.NestedInt64(res.Object.Object, "spec", "predictor", "minReplicas")
	Assert(int64(2), replicas, t)
}

func TestApplyCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(readyObject("mnist", "models"))

	// Existing object keeps its status after update.
	if err := Apply(ctx, client, []*KubeResource{renderTest(t, "gs://bucket/v2")}); err != nil {
		t.Fatal(err)
	}
	obj, err := client.Resource(testGVR).Namespace("models").Get(ctx, "mnist", meta_v1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	uri, _, _ := unstructured.NestedString(obj.Object, "spec", "predictor", "sklearn", "storageUri")
	Assert("gs://bucket/v2", uri, t)
	Assert(true, StateOf(obj).Ready, t)

	// Missing object gets created.
	other := renderTest(t, "gs://bucket/v1")
	other.Object.SetName("other")
	if err = Apply(ctx, client, []*KubeResource{other}); err != nil {
		t.Fatal(err)
	}
	state, err := GetResourceState(ctx, client, testGVR, "models", "other")
	if err != nil {
		t.Fatal(err)
	}
	Assert(true, state.Exists, t)
	Assert(false, state.Ready, t)
}

func TestStateOf(t *testing.T) {
	obj := readyObject("mnist", "models")
	state := StateOf(obj)
	Assert(true, state.Ready, t)
	Assert("http://mnist.models.example.com", state.URL, t)

	unstructured.SetNestedSlice(obj.Object, []interface{}{
		map[string]interface{}{"type": "Ready", "status": "False", "reason": "RevisionMissing", "message": "no revision"},
	}, "status", "conditions")
	state = StateOf(obj)
	Assert(false, state.Ready, t)
	Assert("RevisionMissing", state.Reason, t)
	Assert("no revision", state.Message, t)
}

func TestWaitReady(t *testing.T) {
	PollInterval = 10 * time.Millisecond
	ctx := context.Background()
	client := newFakeClient(readyObject("mnist", "models"))

	state, err := WaitReady(ctx, client, testGVR, "models", "mnist", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	Assert(true, state.Ready, t)

	_, err = WaitReady(ctx, client, testGVR, "models", "missing", 50*time.Millisecond)
	if err == nil {
		t.Fatal("missing resource must not become ready")
	}
}

func TestDelete(t *testing.T) {
	PollInterval = 10 * time.Millisecond
	ctx := context.Background()
	client := newFakeClient(readyObject("mnist", "models"))

	if err := Delete(ctx, client, testGVR, "models", "mnist"); err != nil {
		t.Fatal(err)
	}
	if err := WaitDeleted(ctx, client, testGVR, "models", "mnist", time.Second); err != nil {
		t.Fatal(err)
	}
	// Deleting twice is fine.
	if err := Delete(ctx, client, testGVR, "models", "mnist"); err != nil {
		t.Fatal(err)
	}
}

func TestWaitReadyStaleGeneration(t *testing.T) {
	PollInterval = 10 * time.Millisecond
	ctx := context.Background()
	obj := readyObject("mnist", "models")
	obj.SetGeneration(2)
	unstructured.SetNestedField(obj.Object, int64(1), "status", "observedGeneration")
	client := newFakeClient(obj)

	state := StateOf(obj)
	Assert(true, state.Ready, t)
	Assert(false, state.Observed(), t)

	// Ready=True from the previous generation does not count.
	_, err := WaitReady(ctx, client, testGVR, "models", "mnist", 50*time.Millisecond)
	if err == nil {
		t.Fatal("stale status must not be reported as ready")
	}

	unstructured.SetNestedField(obj.Object, int64(2), "status", "observedGeneration")
	if _, err = client.Resource(testGVR).Namespace("models").Update(ctx, obj, meta_v1.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	state, err = WaitReady(ctx, client, testGVR, "models", "mnist", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	Assert(int64(2), state.ObservedGeneration, t)
}
