package repository

import (
	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"gorm.io/gorm"
)

// tariffRepository implements the TariffRepository interface
type tariffRepository struct {
	db *gorm.DB
}

// NewTariffRepository creates a new tariff repository instance
func NewTariffRepository(db *gorm.DB) TariffRepository {
	return &tariffRepository{db: db}
}

func (r *tariffRepository) Create(pkg *models.TariffPackage) error {
	return r.db.Create(pkg).Error
}

func (r *tariffRepository) GetByID(id uint) (*models.TariffPackage, error) {
	var pkg models.TariffPackage
	if err := r.db.First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

// GetActive returns the purchasable packages ordered by price.
func (r *tariffRepository) GetActive() ([]models.TariffPackage, error) {
	var pkgs []models.TariffPackage
	err := r.db.Where("is_active = ?", true).Order("price_cents ASC").Find(&pkgs).Error
	return pkgs, err
}

func (r *tariffRepository) GetAll() ([]models.TariffPackage, error) {
	var pkgs []models.TariffPackage
	err := r.db.Order("price_cents ASC").Find(&pkgs).Error
	return pkgs, err
}

func (r *tariffRepository) Update(pkg *models.TariffPackage) error {
	return r.db.Save(pkg).Error
}

func (r *tariffRepository) SetActive(id uint, active bool) error {
	return r.db.Model(&models.TariffPackage{}).Where("id = ?", id).Update("is_active", active).Error
}
