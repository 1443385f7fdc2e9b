package models

import "time"

// Artifact is the durable outcome metadata of a succeeded generation job.
// The blob itself lives in object storage under ObjectKey.
type Artifact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	JobID       uint      `gorm:"not null;uniqueIndex" json:"job_id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	ObjectKey   string    `gorm:"type:varchar(512);not null" json:"object_key"`
	BucketName  string    `gorm:"type:varchar(100);not null" json:"bucket_name"`
	ContentType string    `gorm:"type:varchar(50);default:'image/jpeg'" json:"content_type"`
	SizeBytes   int64     `gorm:"default:0" json:"size_bytes"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
