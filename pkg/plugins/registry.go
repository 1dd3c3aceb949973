package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// PredictFunc computes a prediction for request using the loaded model.
// The result must be a JSON object to be served.
type PredictFunc func(ctx context.Context, model interface{}, request map[string]interface{}) (interface{}, error)

// Materializer restores an artifact saved in a local directory.
type Materializer interface {
	DataTypes() []string
	Load(dir, datatype string) (interface{}, error)
}

var (
	mu            sync.RWMutex
	predictFuncs  = map[string]PredictFunc{}
	materializers = map[string]Materializer{}
)

// RegisterPredictFunc makes a predict function available by name.
// It panics if fn is nil or the name is already registered.
func RegisterPredictFunc(name string, fn PredictFunc) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		panic("plugins: RegisterPredictFunc fn is nil")
	}
	if _, dup := predictFuncs[name]; dup {
		panic("plugins: RegisterPredictFunc called twice for " + name)
	}
	predictFuncs[name] = fn
}

func LookupPredictFunc(name string) (PredictFunc, error) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := predictFuncs[name]
	if !ok {
		return nil, fmt.Errorf("unknown predict function %q (registered: %v)", name, sortedKeys(predictFuncs))
	}
	return fn, nil
}

// RegisterMaterializer makes a materializer available by name.
// It panics if m is nil or the name is already registered.
func RegisterMaterializer(name string, m Materializer) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		panic("plugins: RegisterMaterializer materializer is nil")
	}
	if _, dup := materializers[name]; dup {
		panic("plugins: RegisterMaterializer called twice for " + name)
	}
	materializers[name] = m
}

func LookupMaterializer(name string) (Materializer, error) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := materializers[name]
	if !ok {
		return nil, fmt.Errorf("unknown materializer %q", name)
	}
	return m, nil
}

// PredictFuncs returns the registered predict function names, sorted.
func PredictFuncs() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(predictFuncs)
}

func sortedKeys(m map[string]PredictFunc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
