package main

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/kserve"
	"github.com/kuberlab/kserve-deployer/pkg/kubernetes"
	"github.com/kuberlab/kserve-deployer/pkg/store"
	"github.com/kuberlab/kserve-deployer/pkg/utils"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type app struct {
	config   *utils.Configuration
	store    store.Store
	deployer *kserve.Deployer
}

func newApp(opts *globalOptions) (*app, error) {
	config, err := utils.GetConfiguration(opts.configFile)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Using configuration:\n%v", config)

	client, err := kubernetes.NewDynamicClient(config.KubeConfig)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(config.DBDialect, config.DBDsn)
	if err != nil {
		return nil, err
	}
	deployer := kserve.NewDeployer(client, s, kserve.Options{
		Namespace:       config.Namespace,
		IngressEndpoint: config.IngressEndpoint,
	})
	return &app{config: config, store: s, deployer: deployer}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logrus.Warningf("Failed close store: %v", err)
	}
}

type serviceInfo struct {
	UUID               string                     `json:"uuid"`
	Namespace          string                     `json:"namespace"`
	ResourceName       string                     `json:"resource_name"`
	Identity           deployment.ServiceIdentity `json:"identity"`
	Running            bool                       `json:"running"`
	Reason             string                     `json:"reason,omitempty"`
	PredictionURL      string                     `json:"prediction_url,omitempty"`
	PredictionHostname string                     `json:"prediction_hostname,omitempty"`
	Config             deployment.ServiceConfig   `json:"config"`
}

func describe(svc deployment.Service) serviceInfo {
	info := serviceInfo{
		Identity:           svc.Identity(),
		Running:            svc.IsRunning(),
		PredictionURL:      svc.PredictionURL(),
		PredictionHostname: svc.PredictionHostname(),
		Config:             svc.Config(),
	}
	if s, ok := svc.(*kserve.Service); ok {
		info.UUID = s.UUID()
		info.Namespace = s.Namespace()
		info.ResourceName = s.ResourceName()
		info.Reason = s.State().Reason
	}
	return info
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
