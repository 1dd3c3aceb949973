package kserve

import (
	"context"
	"time"

	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/kuberlab/kserve-deployer/pkg/kubernetes"
	"github.com/kuberlab/kserve-deployer/pkg/store"
	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/dynamic"
)

type Options struct {
	// Namespace for new InferenceServices.
	Namespace string
	// IngressEndpoint, when set, is used instead of the InferenceService
	// URL to build prediction URLs.
	IngressEndpoint string
}

var _ deployment.Registry = &Deployer{}

// Deployer manages model servers as KServe InferenceServices and keeps a
// record of each one in the store.
type Deployer struct {
	client dynamic.Interface
	store  store.Store
	opts   Options
}

func NewDeployer(client dynamic.Interface, s store.Store, opts Options) *Deployer {
	return &Deployer{client: client, store: s, opts: opts}
}

// Find returns the model servers of id with their live status, most recent
// first.
func (d *Deployer) Find(ctx context.Context, id deployment.ServiceIdentity) ([]deployment.Service, error) {
	records, err := d.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	services := make([]deployment.Service, 0, len(records))
	for _, r := range records {
		svc, err := d.service(ctx, r)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

// Get returns the model server recorded under id.
func (d *Deployer) Get(ctx context.Context, id string) (*Service, error) {
	record, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.service(ctx, record)
}

// Deploy applies config. With replace, the most recent model server of the
// same identity is updated in place and the older ones are stopped;
// otherwise a new model server is created. A positive timeout waits for
// readiness.
func (d *Deployer) Deploy(ctx context.Context, config deployment.ServiceConfig, replace bool, timeout time.Duration) (deployment.Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	id := config.Identity()

	var record *store.ServiceRecord
	if replace {
		records, err := d.store.Find(ctx, id)
		if err != nil {
			return nil, errors.Deployment(err, "Failed find model servers of %v", id)
		}
		if len(records) > 0 {
			record = records[0]
			for _, old := range records[1:] {
				if old.Namespace == record.Namespace && old.ResourceName == record.ResourceName {
					continue
				}
				logrus.Infof("Stopping outdated model server %v (%v)", old.ResourceName, old.UUID)
				if err := kubernetes.Delete(ctx, d.client, InferenceServiceGVR, old.Namespace, old.ResourceName); err != nil {
					return nil, errors.Deployment(err, "Failed stop model server %v", old.ResourceName)
				}
			}
		}
	}

	if record == nil {
		record = &store.ServiceRecord{UUID: uuid.New(), Namespace: d.opts.Namespace}
		record.ResourceName = ResourceName(config.ModelName, record.UUID)
		record.SetServiceConfig(config)
		logrus.Infof("Creating model server %v for %v", record.ResourceName, id)
		if err := d.store.Create(ctx, record); err != nil {
			return nil, errors.Deployment(err, "Failed save model server %v", record.ResourceName)
		}
	} else {
		record.SetServiceConfig(config)
		logrus.Infof("Updating model server %v for %v", record.ResourceName, id)
		if err := d.store.Update(ctx, record); err != nil {
			return nil, errors.Deployment(err, "Failed save model server %v", record.ResourceName)
		}
	}

	svc := d.newService(record, config)
	if err := svc.apply(ctx, timeout); err != nil {
		return nil, err
	}
	return svc, nil
}

func (d *Deployer) service(ctx context.Context, record *store.ServiceRecord) (*Service, error) {
	config, err := record.ServiceConfig()
	if err != nil {
		return nil, err
	}
	svc := d.newService(record, config)
	if err := svc.Refresh(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (d *Deployer) newService(record *store.ServiceRecord, config deployment.ServiceConfig) *Service {
	return &Service{
		client:          d.client,
		record:          record,
		config:          config,
		ingressEndpoint: d.opts.IngressEndpoint,
		state:           &kubernetes.ResourceState{Name: record.ResourceName},
	}
}
