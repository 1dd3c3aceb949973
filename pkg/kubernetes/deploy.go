package kubernetes

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/ghodss/yaml"
	"github.com/kuberlab/kserve-deployer/pkg/apputil"
	"github.com/sirupsen/logrus"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

type KubeResource struct {
	Name     string
	Object   *unstructured.Unstructured
	Resource schema.GroupVersionResource
}

func GetTemplate(tpl string, vars interface{}) (string, error) {
	t := template.New("gotpl").Funcs(apputil.FuncMap())
	t, err := t.Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("Failed parse template %v", err)
	}
	buffer := bytes.NewBuffer(make([]byte, 0))

	if err := t.ExecuteTemplate(buffer, "gotpl", vars); err != nil {
		return "", err
	}
	return buffer.String(), nil
}

func GetKubeResource(name string, data string, gvr schema.GroupVersionResource, tranform func(*unstructured.Unstructured) error) (*KubeResource, error) {
	raw, err := yaml.YAMLToJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("Failed decode object %v: ", err)
	}
	o := &unstructured.Unstructured{}
	if err = o.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("Failed decode object %v: ", err)
	}
	err = tranform(o)
	if err != nil {
		return nil, fmt.Errorf("Failed transform object %v: ", err)
	}
	return &KubeResource{
		Name:     name,
		Object:   o,
		Resource: gvr,
	}, nil
}

// GetTemplatedResource renders tpl with vars and decodes the result.
func GetTemplatedResource(tpl string, name string, gvr schema.GroupVersionResource, vars interface{}) (*KubeResource, error) {
	data, err := GetTemplate(tpl, vars)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Generated %v:\n%v", name, data)
	return GetKubeResource(name, data, gvr, Noop)
}

func Apply(ctx context.Context, client dynamic.Interface, resources []*KubeResource) error {
	for _, r := range resources {
		if err := applyResource(ctx, client, r); err != nil {
			return err
		}
	}
	return nil
}

func Noop(_ *unstructured.Unstructured) error {
	return nil
}

func applyResource(ctx context.Context, client dynamic.Interface, resource *KubeResource) error {
	v := resource.Object
	ri := client.Resource(resource.Resource).Namespace(v.GetNamespace())
	old, err := ri.Get(ctx, v.GetName(), meta_v1.GetOptions{})
	if err != nil {
		if !kerrors.IsNotFound(err) {
			return err
		}
		logrus.Debugf("Create %v %v/%v", v.GetKind(), v.GetNamespace(), v.GetName())
		_, err = ri.Create(ctx, v, meta_v1.CreateOptions{})
		return err
	}
	// Keep server-side metadata and status; replace what we own.
	updated := old.DeepCopy()
	updated.SetLabels(v.GetLabels())
	updated.SetAnnotations(v.GetAnnotations())
	updated.Object["spec"] = v.Object["spec"]
	logrus.Debugf("Update %v %v/%v", v.GetKind(), v.GetNamespace(), v.GetName())
	_, err = ri.Update(ctx, updated, meta_v1.UpdateOptions{})
	return err
}

// Delete removes the object; a missing object is not an error.
func Delete(ctx context.Context, client dynamic.Interface, gvr schema.GroupVersionResource, namespace, name string) error {
	err := client.Resource(gvr).Namespace(namespace).Delete(ctx, name, meta_v1.DeleteOptions{})
	if err != nil && !kerrors.IsNotFound(err) {
		return err
	}
	return nil
}
