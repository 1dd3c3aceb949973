package deployment

import (
	"context"
	"time"
)

// Service is a live or previously live model server.
type Service interface {
	Identity() ServiceIdentity
	Config() ServiceConfig
	IsRunning() bool
	PredictionURL() string
	PredictionHostname() string
	// Start makes the service serve again. A zero timeout does not wait for
	// readiness.
	Start(ctx context.Context, timeout time.Duration) error
	Stop(ctx context.Context, timeout time.Duration) error
}

// Registry owns the set of deployed services.
type Registry interface {
	// Find returns services deployed under id, most recently created first.
	Find(ctx context.Context, id ServiceIdentity) ([]Service, error)
	// Deploy creates a service for config. With replace, the service
	// matching the config's identity is updated in place and no second
	// service for that identity is left running.
	Deploy(ctx context.Context, config ServiceConfig, replace bool, timeout time.Duration) (Service, error)
}
