package utils

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/ghodss/yaml"
)

const (
	DefaultNamespace      = "kserve"
	DefaultDBDialect      = "sqlite3"
	DefaultDBDsn          = "kserve-deployer.db"
	DefaultTimeoutSeconds = 300
)

// Configuration holds deployer process settings. It is read from a YAML or
// JSON file; environment variables override file values.
type Configuration struct {
	Namespace        string `json:"namespace"`
	KubeConfig       string `json:"kubeconfig,omitempty"`
	SourceRoot       string `json:"source_root,omitempty"`
	IngressEndpoint  string `json:"ingress_endpoint,omitempty"`
	CustomModelImage string `json:"custom_model_image,omitempty"`
	DBDialect        string `json:"db_dialect"`
	DBDsn            string `json:"db_dsn"`
	TimeoutSeconds   uint   `json:"timeout_seconds"`
	LogLevel         string `json:"log_level,omitempty"`
}

func (c Configuration) String() string {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return ""
	}
	return string(data)
}

func (c Configuration) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetConfiguration reads confFileName (optional) and applies env overrides
// and defaults.
func GetConfiguration(confFileName string) (*Configuration, error) {
	conf := Configuration{}
	if confFileName != "" {
		data, err := ioutil.ReadFile(confFileName)
		if err != nil {
			return nil, fmt.Errorf("Failed read deployer configuration: %v", err)
		}
		if err := yaml.Unmarshal(data, &conf); err != nil {
			return nil, fmt.Errorf("Failed parse deployer configuration: %v", err)
		}
	}

	overrides := map[string]*string{
		Namespace:        &conf.Namespace,
		KubeConfig:       &conf.KubeConfig,
		SourceRoot:       &conf.SourceRoot,
		IngressEndpoint:  &conf.IngressEndpoint,
		CustomModelImage: &conf.CustomModelImage,
		DBDialect:        &conf.DBDialect,
		DBDsn:            &conf.DBDsn,
		LogLevel:         &conf.LogLevel,
	}
	for env, field := range overrides {
		if v := getFromEnv(env); v != "" {
			*field = v
		}
	}

	if len(conf.Namespace) < 1 {
		conf.Namespace = DefaultNamespace
	}
	if len(conf.DBDialect) < 1 {
		conf.DBDialect = DefaultDBDialect
	}
	if len(conf.DBDsn) < 1 {
		conf.DBDsn = DefaultDBDsn
	}
	if conf.TimeoutSeconds == 0 {
		conf.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if len(conf.SourceRoot) < 1 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("Failed detect source root: %v", err)
		}
		conf.SourceRoot = wd
	}

	return &conf, nil
}
