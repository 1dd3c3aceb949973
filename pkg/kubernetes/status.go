package kubernetes

import (
	"context"

	kerrors "k8s.io/apimachinery/pkg/api/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

const ConditionReady = "Ready"

// ResourceState is the observed state of a custom resource that reports
// knative-style conditions and an address in its status.
type ResourceState struct {
	Name    string `json:"name"`
	Exists  bool   `json:"exists"`
	Ready   bool   `json:"ready"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
	// Generation and ObservedGeneration tell whether the controller has
	// seen the latest spec.
	Generation         int64 `json:"generation,omitempty"`
	ObservedGeneration int64 `json:"observed_generation,omitempty"`
}

// Observed reports whether the status describes the current spec.
func (s *ResourceState) Observed() bool {
	return s.ObservedGeneration >= s.Generation
}

func StateOf(obj *unstructured.Unstructured) *ResourceState {
	state := &ResourceState{Name: obj.GetName(), Exists: true, Generation: obj.GetGeneration()}
	state.ObservedGeneration, _, _ = unstructured.NestedInt64(obj.Object, "status", "observedGeneration")
	state.URL, _, _ = unstructured.NestedString(obj.Object, "status", "url")

	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok || cond["type"] != ConditionReady {
			continue
		}
		state.Ready = cond["status"] == "True"
		state.Reason, _ = cond["reason"].(string)
		state.Message, _ = cond["message"].(string)
	}
	return state
}

func GetResourceState(ctx context.Context, client dynamic.Interface, gvr schema.GroupVersionResource, namespace, name string) (*ResourceState, error) {
	obj, err := client.Resource(gvr).Namespace(namespace).Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		if kerrors.IsNotFound(err) {
			return &ResourceState{Name: name}, nil
		}
		return nil, err
	}
	return StateOf(obj), nil
}
