package repository

import (
	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"gorm.io/gorm"
)

// jobRepository implements the JobRepository interface
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) GetByUUID(jobUUID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := r.db.Where("job_uuid = ?", jobUUID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) ListByUserID(userID uint, offset, limit int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").Offset(offset).Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) ListRecent(limit int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.db.Order("id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) CountByState(state string) (int64, error) {
	var count int64
	err := r.db.Model(&models.GenerationJob{}).Where("state = ?", state).Count(&count).Error
	return count, err
}
