package repository

import (
	"time"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// TariffRepository defines the interface for tariff package operations
type TariffRepository interface {
	Create(pkg *models.TariffPackage) error
	GetByID(id uint) (*models.TariffPackage, error)
	GetActive() ([]models.TariffPackage, error)
	GetAll() ([]models.TariffPackage, error)
	Update(pkg *models.TariffPackage) error
	SetActive(id uint, active bool) error
}

// JobRepository defines read access to generation jobs for the API and
// operator views. Lifecycle transitions stay inside the scheduler package.
type JobRepository interface {
	GetByUUID(jobUUID string) (*models.GenerationJob, error)
	ListByUserID(userID uint, offset, limit int) ([]models.GenerationJob, error)
	ListRecent(limit int) ([]models.GenerationJob, error)
	CountByState(state string) (int64, error)
}

// OrderRepository defines read access to payment orders for operator views.
// Lifecycle transitions stay inside the payment package.
type OrderRepository interface {
	GetByUUID(orderUUID string) (*models.PaymentOrder, error)
	ListByUserID(userID uint, offset, limit int) ([]models.PaymentOrder, error)
	ListRecent(limit int) ([]models.PaymentOrder, error)
	CountByState(state string) (int64, error)
}

// ArtifactRepository defines the interface for artifact metadata operations
type ArtifactRepository interface {
	GetByID(id uint) (*models.Artifact, error)
	GetByJobID(jobID uint) (*models.Artifact, error)
	ListByUserID(userID uint, offset, limit int) ([]models.Artifact, error)
	Count() (int64, error)
}

// QueueRepository defines the interface for cache/queue inspection operations
type QueueRepository interface {
	GetAllKeys() ([]string, error)
	GetValue(key string) (string, error)
	GetTTL(key string) (time.Duration, error)
	DeleteKey(key string) (int64, error)
	GetListLength(key string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User     UserRepository
	Tariff   TariffRepository
	Job      JobRepository
	Order    OrderRepository
	Artifact ArtifactRepository
	Queue    QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Tariff:   NewTariffRepository(db),
		Job:      NewJobRepository(db),
		Order:    NewOrderRepository(db),
		Artifact: NewArtifactRepository(db),
		Queue:    NewQueueRepository(),
	}
}
