package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ExhaustedEvent is an inbound event that ran out of DLQ retries and needs a human look.
type ExhaustedEvent struct {
	ID              uint `gorm:"primaryKey"`
	CreatedAt       time.Time
	CompanyID       string `gorm:"not null;index"`
	SourceSubject   string `gorm:"index;not null"`
	LastError       string
	RetryCount      int
	EventTimestamp  time.Time      `gorm:"index"`
	DLQPayload      datatypes.JSON `gorm:"type:jsonb;not null"`
	OriginalPayload datatypes.JSON `gorm:"type:jsonb"`
	Resolved        bool           `gorm:"index;default:false"`
	ResolvedAt      *time.Time
	Notes           string `gorm:"type:text"`
}

func (ExhaustedEvent) TableName(namer schema.Namer) string {
	return namer.TableName("exhausted_events")
}
