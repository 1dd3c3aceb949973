package torchserve

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zip"
	"github.com/kuberlab/kserve-deployer/pkg/apputil"
	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ConfigDir       = "config"
	ConfigFile      = "config.properties"
	ModelStoreDir   = "model-store"
	ManifestPath    = "MAR-INF/MANIFEST.json"
	ArchiverVersion = "0.6.0"
	// ModelStoreMount is where the KServe pytorch predictor finds the model
	// store of its storage URI.
	ModelStoreMount = "/mnt/models/" + ModelStoreDir
)

// SerializedExtensions are the file extensions of a saved torch model.
var SerializedExtensions = []string{".pt", ".pth"}

const configTpl = `inference_address=http://0.0.0.0:8085
management_address=http://0.0.0.0:8085
metrics_address=http://0.0.0.0:8082
grpc_inference_port=7070
grpc_management_port=7071
enable_metrics_api=true
metrics_format=prometheus
number_of_netty_threads=4
job_queue_size=10
enable_envvars_config=true
install_py_dep_per_model=true
model_store={{ .ModelStore }}
model_snapshot={{ toJson .Snapshot }}
`

type Manifest struct {
	CreatedOn       string        `json:"createdOn"`
	Runtime         string        `json:"runtime"`
	Model           ManifestModel `json:"model"`
	ArchiverVersion string        `json:"archiverVersion"`
}

type ManifestModel struct {
	ModelName        string `json:"modelName"`
	SerializedFile   string `json:"serializedFile,omitempty"`
	Handler          string `json:"handler"`
	ModelFile        string `json:"modelFile,omitempty"`
	ModelVersion     string `json:"modelVersion"`
	RequirementsFile string `json:"requirementsFile,omitempty"`
}

// LocalPath returns the filesystem path of a local path or file:// URI.
func LocalPath(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("location is empty")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "":
		return filepath.Abs(uri)
	case "file":
		return filepath.Abs(u.Path)
	}
	return "", fmt.Errorf("%v:// locations are not supported, use a local path", u.Scheme)
}

// ArchiveName is the model archive file name of model.
func ArchiveName(model string) string {
	return model + ".mar"
}

// Stage packages the torch model at modelURI with the files of archive and
// writes a TorchServe model store into outputURI:
//
//	config/config.properties
//	model-store/<model>.mar
func Stage(archive *deployment.TorchServeArchive, model, modelURI, outputURI string) error {
	modelPath, err := LocalPath(modelURI)
	if err != nil {
		return err
	}
	outPath, err := LocalPath(outputURI)
	if err != nil {
		return err
	}
	serialized, err := serializedFiles(modelPath)
	if err != nil {
		return err
	}

	storeDir := filepath.Join(outPath, ModelStoreDir)
	configDir := filepath.Join(outPath, ConfigDir)
	for _, dir := range []string{storeDir, configDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	marPath := filepath.Join(storeDir, ArchiveName(model))
	if err := writeArchive(marPath, archive, model, serialized); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(configDir, ConfigFile), archive, model); err != nil {
		return err
	}
	logrus.Infof("Staged TorchServe model store for %v at %v", model, outPath)
	return nil
}

// serializedFiles lists the model files at p. The first one with a torch
// extension is the serialized model.
func serializedFiles(p string) ([]string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{p}, nil
	}
	entries, err := ioutil.ReadDir(p)
	if err != nil {
		return nil, err
	}
	var model string
	var others []string
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		f := filepath.Join(p, e.Name())
		if model == "" && isSerialized(e.Name()) {
			model = f
			continue
		}
		others = append(others, f)
	}
	if model == "" {
		return nil, fmt.Errorf("no serialized torch model %v found in %v", SerializedExtensions, p)
	}
	return append([]string{model}, others...), nil
}

func isSerialized(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SerializedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func newManifest(archive *deployment.TorchServeArchive, model, serialized string) Manifest {
	m := Manifest{
		CreatedOn: time.Now().Format("02/01/2006 15:04:05"),
		Runtime:   "python",
		Model: ManifestModel{
			ModelName:      model,
			SerializedFile: filepath.Base(serialized),
			Handler:        archive.Handler,
			ModelFile:      filepath.Base(archive.ModelClass),
			ModelVersion:   archive.ModelVersion,
		},
		ArchiverVersion: ArchiverVersion,
	}
	if filepath.IsAbs(archive.Handler) {
		m.Model.Handler = filepath.Base(archive.Handler)
	}
	if archive.RequirementsFile != "" {
		m.Model.RequirementsFile = filepath.Base(archive.RequirementsFile)
	}
	return m
}

// archiveFiles lists the files packed next to the manifest, keyed by their
// name inside the archive.
func archiveFiles(archive *deployment.TorchServeArchive, serialized []string) (map[string]string, error) {
	files := append([]string{}, serialized...)
	files = append(files, archive.ModelClass)
	if filepath.IsAbs(archive.Handler) {
		files = append(files, archive.Handler)
	}
	files = append(files, archive.ExtraFiles...)
	if archive.RequirementsFile != "" {
		files = append(files, archive.RequirementsFile)
	}

	entries := make(map[string]string, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		if prev, dup := entries[name]; dup && prev != f {
			return nil, fmt.Errorf("%v and %v have the same name in the model archive", prev, f)
		}
		entries[name] = f
	}
	return entries, nil
}

func writeArchive(path string, archive *deployment.TorchServeArchive, model string, serialized []string) error {
	entries, err := archiveFiles(archive, serialized)
	if err != nil {
		return err
	}
	manifest, err := json.MarshalIndent(newManifest(archive, model, serialized[0]), "", "  ")
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.Create(ManifestPath)
	if err != nil {
		return err
	}
	if _, err = w.Write(manifest); err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := addFile(zw, name, entries[name]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addFile(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// writeConfig copies the user provided TorchServe config or renders the
// default one serving model from the model store.
func writeConfig(path string, archive *deployment.TorchServeArchive, model string) error {
	if archive.TorchConfig != "" {
		data, err := ioutil.ReadFile(archive.TorchConfig)
		if err != nil {
			return err
		}
		return ioutil.WriteFile(path, data, 0644)
	}
	data, err := DefaultConfig(model, archive.ModelVersion)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

// DefaultConfig renders config.properties for a single model version.
func DefaultConfig(model, version string) ([]byte, error) {
	snapshot := map[string]interface{}{
		"name":       "startup.cfg",
		"modelCount": 1,
		"models": map[string]interface{}{
			model: map[string]interface{}{
				version: map[string]interface{}{
					"defaultVersion":  true,
					"marName":         ArchiveName(model),
					"minWorkers":      1,
					"maxWorkers":      5,
					"batchSize":       1,
					"maxBatchDelay":   10,
					"responseTimeout": 120,
				},
			},
		},
	}
	t, err := template.New("config").Funcs(apputil.FuncMap()).Parse(configTpl)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	err = t.Execute(buf, map[string]interface{}{
		"ModelStore": ModelStoreMount,
		"Snapshot":   snapshot,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
