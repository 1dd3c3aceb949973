package store

import (
	"context"
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/kuberlab/kserve-deployer/pkg/deployment"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/kuberlab/kserve-deployer/pkg/types"
	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
)

// ServiceRecord remembers a model server deployed for an identity. The
// record outlives the InferenceService so a stopped server can be started
// again.
type ServiceRecord struct {
	ID               uint       `json:"-" gorm:"primary_key"`
	UUID             string     `json:"uuid" gorm:"unique_index"`
	PipelineName     string     `json:"pipeline_name" gorm:"index:idx_identity"`
	PipelineStepName string     `json:"pipeline_step_name" gorm:"index:idx_identity"`
	ModelName        string     `json:"model_name" gorm:"index:idx_identity"`
	PipelineRunID    string     `json:"pipeline_run_id"`
	Namespace        string     `json:"namespace"`
	ResourceName     string     `json:"resource_name"`
	Config           string     `json:"config" gorm:"type:text"`
	CreatedAt        types.Time `json:"created_at" gorm:"type:timestamp"`
	UpdatedAt        types.Time `json:"updated_at" gorm:"type:timestamp"`
}

func (r *ServiceRecord) Identity() deployment.ServiceIdentity {
	return deployment.NewServiceIdentity(r.PipelineName, r.PipelineStepName, r.ModelName)
}

// ServiceConfig decodes the stored config.
func (r *ServiceRecord) ServiceConfig() (deployment.ServiceConfig, error) {
	config := deployment.ServiceConfig{}
	if err := json.Unmarshal([]byte(r.Config), &config); err != nil {
		return config, fmt.Errorf("Failed decode config of service %v: %v", r.UUID, err)
	}
	return config, nil
}

func (r *ServiceRecord) SetServiceConfig(config deployment.ServiceConfig) {
	r.Config = config.String()
	r.PipelineName = config.PipelineName
	r.PipelineStepName = config.PipelineStepName
	r.ModelName = config.ModelName
	r.PipelineRunID = config.PipelineRunID
}

type Store interface {
	// Find returns the records of id, most recent first.
	Find(ctx context.Context, id deployment.ServiceIdentity) ([]*ServiceRecord, error)
	Get(ctx context.Context, uuid string) (*ServiceRecord, error)
	Create(ctx context.Context, record *ServiceRecord) error
	Update(ctx context.Context, record *ServiceRecord) error
	Close() error
}

type DBStore struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(dialect, dsn string) (*DBStore, error) {
	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("Failed open %v database: %v", dialect, err)
	}
	logrus.Debugf("Opened %v database", dialect)
	return NewDBStore(db)
}

func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&ServiceRecord{}).Error; err != nil {
		return nil, fmt.Errorf("Failed migrate service records: %v", err)
	}
	return &DBStore{db: db}, nil
}

func (s *DBStore) Find(_ context.Context, id deployment.ServiceIdentity) ([]*ServiceRecord, error) {
	records := make([]*ServiceRecord, 0)
	err := s.db.Where(&ServiceRecord{
		PipelineName:     id.PipelineName,
		PipelineStepName: id.PipelineStepName,
		ModelName:        id.ModelName,
	}).Order("created_at desc, id desc").Find(&records).Error
	if err != nil {
		return nil, errors.Smart(err)
	}

	// Zero values are dropped from struct conditions.
	res := records[:0]
	for _, r := range records {
		if r.Identity() == id {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *DBStore) Get(_ context.Context, id string) (*ServiceRecord, error) {
	record := &ServiceRecord{}
	if err := s.db.Where("uuid = ?", id).First(record).Error; err != nil {
		return nil, errors.Smart(err)
	}
	return record, nil
}

// Create stores a new record, assigning a UUID when missing.
func (s *DBStore) Create(_ context.Context, record *ServiceRecord) error {
	if record.UUID == "" {
		record.UUID = uuid.New()
	}
	now := types.TimeNow()
	if !record.CreatedAt.Valid {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if err := s.db.Create(record).Error; err != nil {
		return errors.Smart(err)
	}
	return nil
}

func (s *DBStore) Update(_ context.Context, record *ServiceRecord) error {
	record.UpdatedAt = types.TimeNow()
	if err := s.db.Save(record).Error; err != nil {
		return errors.Smart(err)
	}
	return nil
}

func (s *DBStore) Close() error {
	return s.db.Close()
}
