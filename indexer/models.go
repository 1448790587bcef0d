package indexer

import (
	"time"

	"gorm.io/gorm"
)

// Transaction mirrors a completed host transaction.
type Transaction struct {
	ID        string `gorm:"primaryKey;size:36"`
	Signer    string `gorm:"size:64;index"`
	Receiver  string `gorm:"size:64;index"`
	Method    string `gorm:"size:64"`
	Deposit   string `gorm:"size:80"`
	Succeeded bool
	// Failure holds the first failed receipt's diagnostic, if any.
	Failure   string
	Receipts  []Receipt `gorm:"foreignKey:TxID"`
	CreatedAt time.Time
}

// Receipt mirrors one executed sub-invocation.
type Receipt struct {
	ID          string `gorm:"primaryKey;size:36"`
	TxID        string `gorm:"size:36;index"`
	Seq         int    `gorm:"not null"`
	ParentID    string `gorm:"size:36"`
	Executor    string `gorm:"size:64;index"`
	Predecessor string `gorm:"size:64"`
	Signer      string `gorm:"size:64"`
	Method      string `gorm:"size:64"`
	Status      string `gorm:"size:16"`
	Failure     string
	Return      string
	// Logs is a JSON array of log lines.
	Logs        string
	GasBurnt    uint64
	BlockHeight uint64 `gorm:"index"`
	TimestampMs uint64
}

// Action mirrors a committed counter action event.
type Action struct {
	ID          uint   `gorm:"primaryKey"`
	TxID        string `gorm:"size:36;index"`
	ReceiptID   string `gorm:"size:36"`
	Actor       string `gorm:"size:64;index"`
	Requested   string `gorm:"size:16"`
	Resolved    string `gorm:"size:16"`
	Value       string `gorm:"size:80"`
	BlockHeight uint64 `gorm:"index"`
	TimestampMs uint64
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Transaction{},
		&Receipt{},
		&Action{},
	)
}
