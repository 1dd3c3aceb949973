package apputil

import (
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/ghodss/yaml"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func ToYaml(v interface{}) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		// Swallow errors inside of a template.
		return ""
	}
	return string(data)
}

// ToJSON renders v as a single-line JSON document, which is also valid YAML
// flow syntax.
func ToJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func FuncMap() template.FuncMap {
	f := sprig.TxtFuncMap()
	delete(f, "env")
	delete(f, "expandenv")
	// Add some extra functionality
	extra := template.FuncMap{
		"toYaml": ToYaml,
		"toJson": ToJSON,
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
