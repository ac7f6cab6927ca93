package rewardscan

import (
	"time"

	"gorm.io/gorm"
)

// Reward mirrors the current ledger state of a single reward. Rows are
// upserted as feed frames arrive, so the table always reflects the last
// applied cursor.
type Reward struct {
	ID         uint64 `gorm:"primaryKey"`
	Owner      string `gorm:"size:90;index"`
	Points     uint64
	Burned     bool   `gorm:"index"`
	Annotation string `gorm:"size:256"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is the append-only history of feed frames. Sequence is the ledger
// journal sequence, so replaying a frame after a restart is a no-op.
type Event struct {
	Sequence   uint64 `gorm:"primaryKey"`
	Type       string `gorm:"size:40;index"`
	RewardID   uint64 `gorm:"column:reward_id;index"`
	Owner      string `gorm:"size:90"`
	FromAddr   string `gorm:"column:from_addr;size:90"`
	ToAddr     string `gorm:"column:to_addr;size:90"`
	Actor      string `gorm:"size:90"`
	Points     uint64
	OldPoints  uint64 `gorm:"column:old_points"`
	Requested  int
	Skipped    int
	MintedIDs  string `gorm:"column:minted_ids;size:4096"`
	Annotation string `gorm:"size:256"`
	Timestamp  int64
	CreatedAt  time.Time
}

// Checkpoint stores the cursor of the last applied frame. A single row keyed
// by ID 1 is rewritten inside the same transaction as the frame it covers.
type Checkpoint struct {
	ID        uint   `gorm:"primaryKey"`
	Cursor    string `gorm:"size:32"`
	UpdatedAt time.Time
}

// AutoMigrate creates or updates the indexer schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Reward{},
		&Event{},
		&Checkpoint{},
	)
}
