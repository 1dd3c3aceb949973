package modelserver

import (
	"fmt"
	"io/ioutil"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ArtifactFile     = "artifact.json"
	DefaultModelName = "model"
	DefaultModelDir  = "/mnt/models"
)

// ArtifactManifest names how the artifact stored next to it was saved.
type ArtifactManifest struct {
	DataType     string `json:"datatype"`
	Materializer string `json:"materializer"`
}

func ReadManifest(dir string) (*ArtifactManifest, error) {
	data, err := ioutil.ReadFile(filepath.Join(dir, ArtifactFile))
	if err != nil {
		return nil, err
	}
	manifest := &ArtifactManifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("Failed parse %v: %v", ArtifactFile, err)
	}
	if manifest.DataType == "" || manifest.Materializer == "" {
		return nil, fmt.Errorf("%v must set both datatype and materializer", ArtifactFile)
	}
	return manifest, nil
}

func WriteManifest(dir string, manifest ArtifactManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, ArtifactFile), data, 0644)
}
