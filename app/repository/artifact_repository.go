package repository

import (
	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"gorm.io/gorm"
)

// artifactRepository implements the ArtifactRepository interface
type artifactRepository struct {
	db *gorm.DB
}

// NewArtifactRepository creates a new artifact repository instance
func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &artifactRepository{db: db}
}

func (r *artifactRepository) GetByID(id uint) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := r.db.First(&artifact, id).Error; err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (r *artifactRepository) GetByJobID(jobID uint) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := r.db.Where("job_id = ?", jobID).First(&artifact).Error; err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (r *artifactRepository) ListByUserID(userID uint, offset, limit int) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").Offset(offset).Limit(limit).
		Find(&artifacts).Error
	return artifacts, err
}

func (r *artifactRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Artifact{}).Count(&count).Error
	return count, err
}
