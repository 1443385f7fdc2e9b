package scheduler

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

// Repository provides the DB operations of admission and dispatch. Admission
// and every refund-carrying transition are single transactions so the ledger
// can never drift from the job states.
type Repository interface {
	AdmitJob(job *models.GenerationJob) error
	Balance(userID uint) (int, error)
	UserPriorityClass(userID uint) (int, error)

	GetJobByUUID(jobUUID string) (*models.GenerationJob, error)
	ClaimJob(jobUUID string, slot int) (*models.GenerationJob, error)
	RequeueJob(jobID uint) (bool, error)
	CompleteJob(jobID uint, attempt int, artifactID uint) (bool, error)
	FailJobWithRefund(jobID uint, reason string) (bool, error)
	CancelQueuedJobWithRefund(jobUUID string) (*models.GenerationJob, error)

	StuckRunningJobs(olderThan time.Time) ([]models.GenerationJob, error)
	QueuedJobs(limit int) ([]models.GenerationJob, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AdmitJob debits the job's credit cost and creates the queued job row in
// one transaction. The user row is locked FOR UPDATE so two concurrent
// submits cannot both pass the balance check on the same credits.
func (r *gormRepository) AdmitJob(job *models.GenerationJob) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, job.UserID).Error; err != nil {
			return err
		}

		balance, err := balanceTx(tx, job.UserID)
		if err != nil {
			return err
		}
		if balance < job.CreditCost {
			return ErrInsufficientCredits
		}

		if err := tx.Create(job).Error; err != nil {
			return err
		}

		jobID := job.ID
		debit := &models.LedgerEntry{
			UserID:       job.UserID,
			Delta:        -job.CreditCost,
			Reason:       models.LedgerReasonDebit,
			RelatedJobID: &jobID,
		}
		if err := tx.Create(debit).Error; err != nil {
			return err
		}

		return tx.Model(&models.User{}).
			Where("id = ?", job.UserID).
			Update("last_activity_at", time.Now()).Error
	})
}

func balanceTx(tx *gorm.DB, userID uint) (int, error) {
	var balance int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&balance).Error
	return int(balance), err
}

func (r *gormRepository) Balance(userID uint) (int, error) {
	return balanceTx(r.db, userID)
}

// UserPriorityClass is the highest class among the user's paid tariff
// packages; users without a paid order run at standard.
func (r *gormRepository) UserPriorityClass(userID uint) (int, error) {
	var class *int
	err := r.db.Model(&models.PaymentOrder{}).
		Joins("JOIN tariff_packages ON tariff_packages.id = payment_orders.tariff_package_id").
		Where("payment_orders.user_id = ? AND payment_orders.state = ?", userID, models.OrderStatePaid).
		Select("MAX(tariff_packages.priority_class)").
		Scan(&class).Error
	if err != nil {
		return models.PriorityClassStandard, err
	}
	if class == nil {
		return models.PriorityClassStandard, nil
	}
	return *class, nil
}

func (r *gormRepository) GetJobByUUID(jobUUID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := r.db.Where("job_uuid = ?", jobUUID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob is the linearizable queued -> running transition. Exactly one
// dispatcher wins the CAS; a lost claim (job cancelled or already claimed)
// returns nil without error.
func (r *gormRepository) ClaimJob(jobUUID string, slot int) (*models.GenerationJob, error) {
	now := time.Now()
	res := r.db.Model(&models.GenerationJob{}).
		Where("job_uuid = ? AND state IN ?", jobUUID, []string{models.JobStateQueued, models.JobStateRetrying}).
		Updates(map[string]interface{}{
			"state":         models.JobStateRunning,
			"assigned_slot": slot,
			"attempts":      gorm.Expr("attempts + 1"),
			"started_at":    &now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetJobByUUID(jobUUID)
}

// RequeueJob puts a transiently failed running job back in line at its
// original priority.
func (r *gormRepository) RequeueJob(jobID uint) (bool, error) {
	res := r.db.Model(&models.GenerationJob{}).
		Where("id = ? AND state = ?", jobID, models.JobStateRunning).
		Updates(map[string]interface{}{
			"state":         models.JobStateRetrying,
			"assigned_slot": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CompleteJob marks the job succeeded. The attempts guard ties completion to
// the claim that produced the artifact: a stale attempt surviving past a
// stuck-job requeue cannot complete the job under a newer claim.
func (r *gormRepository) CompleteJob(jobID uint, attempt int, artifactID uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.GenerationJob{}).
		Where("id = ? AND state = ? AND attempts = ?", jobID, models.JobStateRunning, attempt).
		Updates(map[string]interface{}{
			"state":       models.JobStateSucceeded,
			"artifact_id": artifactID,
			"finished_at": &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FailJobWithRefund terminally fails a running job and refunds its debit in
// the same transaction.
func (r *gormRepository) FailJobWithRefund(jobID uint, reason string) (bool, error) {
	failed := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var job models.GenerationJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&job, jobID).Error; err != nil {
			return err
		}
		if job.State != models.JobStateRunning && job.State != models.JobStateRetrying {
			return nil
		}

		now := time.Now()
		if err := tx.Model(&models.GenerationJob{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"state":          models.JobStateFailed,
				"failure_reason": reason,
				"finished_at":    &now,
				"assigned_slot":  nil,
			}).Error; err != nil {
			return err
		}

		refund := &models.LedgerEntry{
			UserID:       job.UserID,
			Delta:        job.CreditCost,
			Reason:       models.LedgerReasonRefund,
			RelatedJobID: &job.ID,
		}
		if err := tx.Create(refund).Error; err != nil {
			return err
		}

		failed = true
		return nil
	})
	return failed, err
}

// CancelQueuedJobWithRefund cancels a job that has not started and refunds
// its debit. Returns ErrNotCancellable when the job already runs or reached
// a terminal state; the race against a dispatcher claim is decided by the
// row lock.
func (r *gormRepository) CancelQueuedJobWithRefund(jobUUID string) (*models.GenerationJob, error) {
	var cancelled *models.GenerationJob
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var job models.GenerationJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_uuid = ?", jobUUID).
			First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrUnknownJob
			}
			return err
		}
		if job.State == models.JobStateCancelled {
			cancelled = &job
			return nil
		}
		if job.State != models.JobStateQueued && job.State != models.JobStateRetrying {
			return ErrNotCancellable
		}

		now := time.Now()
		if err := tx.Model(&models.GenerationJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"state":       models.JobStateCancelled,
				"finished_at": &now,
			}).Error; err != nil {
			return err
		}

		refund := &models.LedgerEntry{
			UserID:       job.UserID,
			Delta:        job.CreditCost,
			Reason:       models.LedgerReasonRefund,
			RelatedJobID: &job.ID,
		}
		if err := tx.Create(refund).Error; err != nil {
			return err
		}

		job.State = models.JobStateCancelled
		cancelled = &job
		return nil
	})
	return cancelled, err
}

// StuckRunningJobs lists running jobs whose attempt started before the
// cutoff, i.e. a dispatcher died mid-attempt.
func (r *gormRepository) StuckRunningJobs(olderThan time.Time) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.db.
		Where("state = ? AND started_at IS NOT NULL AND started_at < ?", models.JobStateRunning, olderThan).
		Find(&jobs).Error
	return jobs, err
}

// QueuedJobs lists dispatchable jobs for the Redis reconciler, oldest first.
func (r *gormRepository) QueuedJobs(limit int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.db.
		Where("state IN ?", []string{models.JobStateQueued, models.JobStateRetrying}).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
