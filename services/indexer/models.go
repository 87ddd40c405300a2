package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AgreementView is the denormalised read model of one agreement and its
// dispute. Amounts are decimal strings so arbitrary precision survives every
// SQL backend.
type AgreementView struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement:false"`
	Status         string `gorm:"size:16;index"`
	Depositor      string `gorm:"size:42;index"`
	Beneficiary    string `gorm:"size:42;index"`
	Amount         string `gorm:"not null"`
	StartDate      int64
	DeadlineDate   int64
	DetailsHash    string
	Arbitrator     string `gorm:"size:42;index"`
	FeePercentage  uint32
	Agreed         bool
	DisputeStart   int64
	AssignedDate   int64
	RefundAmount   string
	FeeAmount      string
	ReleasedAmount string
	LastEvent      string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PoolMemberView lists current arbitrator pool members.
type PoolMemberView struct {
	Address   string `gorm:"size:42;primaryKey"`
	CreatedAt time.Time
}

// WithdrawalView records every payout out of the vault.
type WithdrawalView struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgreementID uint64    `gorm:"index"`
	Role        string    `gorm:"size:16"`
	Recipient   string    `gorm:"size:42;index"`
	Amount      string    `gorm:"not null"`
	CreatedAt   time.Time
}

// AutoMigrate creates or updates the read model tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AgreementView{}, &PoolMemberView{}, &WithdrawalView{})
}
