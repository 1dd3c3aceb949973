package kserve

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/kuberlab/kserve-deployer/pkg/kubernetes"
	"github.com/kuberlab/kserve-deployer/pkg/store"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/dynamic"
)

var _ deployment.Service = &Service{}

// Service is a model server backed by an InferenceService.
type Service struct {
	client          dynamic.Interface
	record          *store.ServiceRecord
	config          deployment.ServiceConfig
	ingressEndpoint string
	state           *kubernetes.ResourceState
}

func (s *Service) UUID() string {
	return s.record.UUID
}

func (s *Service) Namespace() string {
	return s.record.Namespace
}

func (s *Service) ResourceName() string {
	return s.record.ResourceName
}

func (s *Service) State() kubernetes.ResourceState {
	return *s.state
}

func (s *Service) Identity() deployment.ServiceIdentity {
	return s.config.Identity()
}

func (s *Service) Config() deployment.ServiceConfig {
	return s.config
}

func (s *Service) IsRunning() bool {
	return s.state.Exists && s.state.Ready
}

// PredictionURL is empty until the InferenceService reports an address and
// no ingress endpoint is configured.
func (s *Service) PredictionURL() string {
	base := s.ingressEndpoint
	if base == "" {
		base = s.state.URL
	}
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%v/v1/models/%v:predict", strings.TrimRight(base, "/"), s.config.ModelName)
}

// PredictionHostname is the host to send in requests that go through the
// ingress endpoint.
func (s *Service) PredictionHostname() string {
	if s.state.URL == "" {
		return ""
	}
	u, err := url.Parse(s.state.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Refresh reads the live InferenceService status.
func (s *Service) Refresh(ctx context.Context) error {
	state, err := kubernetes.GetResourceState(ctx, s.client, InferenceServiceGVR, s.record.Namespace, s.record.ResourceName)
	if err != nil {
		return errors.Deployment(err, "Failed get status of model server %v", s.record.ResourceName)
	}
	s.state = state
	return nil
}

// Start applies the stored config again.
func (s *Service) Start(ctx context.Context, timeout time.Duration) error {
	logrus.Infof("Starting model server %v", s.record.ResourceName)
	return s.apply(ctx, timeout)
}

// Stop deletes the InferenceService. The record stays so the model server
// can be started again.
func (s *Service) Stop(ctx context.Context, timeout time.Duration) error {
	logrus.Infof("Stopping model server %v", s.record.ResourceName)
	ns, name := s.record.Namespace, s.record.ResourceName
	if err := kubernetes.Delete(ctx, s.client, InferenceServiceGVR, ns, name); err != nil {
		return errors.Deployment(err, "Failed delete model server %v", name)
	}
	if timeout > 0 {
		if err := kubernetes.WaitDeleted(ctx, s.client, InferenceServiceGVR, ns, name, timeout); err != nil {
			return errors.Deployment(err, "Failed stop model server %v", name)
		}
	}
	s.state = &kubernetes.ResourceState{Name: name}
	return nil
}

func (s *Service) apply(ctx context.Context, timeout time.Duration) error {
	ns, name := s.record.Namespace, s.record.ResourceName
	resource, err := InferenceService(s.record, s.config)
	if err != nil {
		return errors.Deployment(err, "Failed render model server %v", name)
	}
	if err := kubernetes.Apply(ctx, s.client, []*kubernetes.KubeResource{resource}); err != nil {
		return errors.Deployment(err, "Failed apply model server %v", name)
	}
	if timeout <= 0 {
		return s.Refresh(ctx)
	}

	state, err := kubernetes.WaitReady(ctx, s.client, InferenceServiceGVR, ns, name, timeout)
	if state != nil {
		s.state = state
	}
	if err != nil {
		return errors.Deployment(err, "Model server %v did not become ready", name)
	}
	logrus.Infof("Model server %v is ready at %v", name, s.PredictionURL())
	return nil
}
