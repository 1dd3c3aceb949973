package utils

import (
	"os"
)

const (
	Namespace        = "POD_NAMESPACE"
	LogLevel         = "LOG_LEVEL"
	KubeConfig       = "KUBECONFIG"
	SourceRoot       = "SOURCE_ROOT"
	DBDialect        = "DB_DIALECT"
	DBDsn            = "DB_DSN"
	IngressEndpoint  = "INGRESS_ENDPOINT"
	CustomModelImage = "CUSTOM_MODEL_IMAGE"
	// StorageURI is set on custom model containers.
	StorageURI = "STORAGE_URI"
)

func getFromEnv(varName string) string {
	return os.Getenv(varName)
}

func GetLogLevel() string {
	return getFromEnv(LogLevel)
}
