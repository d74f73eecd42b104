package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/elecmate/api/internal/model"
)

// PostgresStore reads the batch_jobs and batch_progress tables
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens dsn. With autoMigrate the two tables are created
// or extended to match the model.
func NewPostgresStore(dsn string, autoMigrate bool) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		if err := db.AutoMigrate(&model.Job{}, &model.BatchProgress{}); err != nil {
			return nil, err
		}
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	// ids are uuid columns; anything else cannot match a row
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}

	var job model.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *PostgresStore) ListBatchProgress(ctx context.Context, jobID string) ([]model.BatchProgress, error) {
	batches := []model.BatchProgress{}
	if _, err := uuid.Parse(jobID); err != nil {
		return batches, nil
	}
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("batch_number asc").Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *PostgresStore) ListLatestJobs(ctx context.Context, limit int) ([]model.Job, error) {
	jobs := []model.Job{}
	if limit <= 0 {
		return jobs, nil
	}
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *model.Job) error {
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *PostgresStore) SaveBatch(ctx context.Context, batch *model.BatchProgress) error {
	return s.db.WithContext(ctx).Save(batch).Error
}

// Close releases the underlying connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
