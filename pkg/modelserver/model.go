package modelserver

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/kuberlab/kserve-deployer/pkg/plugins"
	"github.com/sirupsen/logrus"
)

type ModelState string

const (
	StateUnloaded ModelState = "Unloaded"
	StateLoading  ModelState = "Loading"
	StateReady    ModelState = "Ready"
	StateFailed   ModelState = "Failed"
)

// CustomModel serves an artifact with a registered predict function.
type CustomModel struct {
	Name     string
	ModelDir string

	predict plugins.PredictFunc

	loadMu sync.Mutex
	mu     sync.RWMutex
	state  ModelState
	model  interface{}
	err    error
}

// NewCustomModel creates an unloaded model. A nil predict function makes
// every prediction fail as not implemented.
func NewCustomModel(name, modelDir string, predict plugins.PredictFunc) *CustomModel {
	return &CustomModel{
		Name:     name,
		ModelDir: modelDir,
		predict:  predict,
		state:    StateUnloaded,
	}
}

// NewCustomModelByName resolves the predict function registered as fn.
func NewCustomModelByName(name, modelDir, fn string) (*CustomModel, error) {
	predict, err := plugins.LookupPredictFunc(fn)
	if err != nil {
		return nil, errors.ConfigValidation("%v", err)
	}
	return NewCustomModel(name, modelDir, predict), nil
}

func (m *CustomModel) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *CustomModel) Ready() bool {
	return m.State() == StateReady
}

// LoadError is the reason of the Failed state.
func (m *CustomModel) LoadError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Load reads the artifact from ModelDir using the materializer named in its
// manifest. It reports success instead of returning an error; a failed
// model stays failed.
func (m *CustomModel) Load() bool {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return true
	case StateFailed:
		m.mu.Unlock()
		return false
	}
	m.state = StateLoading
	m.mu.Unlock()

	model, err := m.load()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		logrus.Errorf("Failed to load model %v: %v", m.Name, err)
		m.state = StateFailed
		m.err = err
		return false
	}
	m.model = model
	m.state = StateReady
	logrus.Infof("Model %v is loaded from %v", m.Name, m.ModelDir)
	return true
}

func (m *CustomModel) load() (model interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("%s", debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	manifest, err := ReadManifest(m.ModelDir)
	if err != nil {
		return nil, err
	}
	materializer, err := plugins.LookupMaterializer(manifest.Materializer)
	if err != nil {
		return nil, err
	}
	if !supports(materializer, manifest.DataType) {
		return nil, fmt.Errorf("materializer %v does not support datatype %v", manifest.Materializer, manifest.DataType)
	}
	return materializer.Load(m.ModelDir, manifest.DataType)
}

func supports(m plugins.Materializer, datatype string) bool {
	for _, t := range m.DataTypes() {
		if t == datatype {
			return true
		}
	}
	return false
}

// Predict runs the predict function on request. The model must be Ready
// and the function must return a JSON object.
func (m *CustomModel) Predict(ctx context.Context, request map[string]interface{}) (map[string]interface{}, error) {
	m.mu.RLock()
	state, model := m.state, m.model
	m.mu.RUnlock()

	if state != StateReady {
		return nil, errors.NotReady(fmt.Sprintf("Model %v is not ready: %v", m.Name, state))
	}
	if m.predict == nil {
		return nil, errors.NotImplemented("Predict function is not implemented")
	}

	prediction, err := m.call(ctx, model, request)
	if err != nil {
		return nil, errors.Prediction("Failed to predict: %v", err)
	}
	res, ok := asMapping(prediction)
	if !ok {
		return nil, errors.Prediction("Prediction is not a dictionary: got %T", prediction)
	}
	return res, nil
}

// asMapping converts any map keyed by strings into a JSON object.
func asMapping(v interface{}) (map[string]interface{}, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, m != nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, false
	}
	res := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		res[iter.Key().String()] = iter.Value().Interface()
	}
	return res, true
}

func (m *CustomModel) call(ctx context.Context, model interface{}, request map[string]interface{}) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.predict(ctx, model, request)
}
