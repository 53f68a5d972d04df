package kid

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRow is the persisted allocation state for one type prefix.
type SequenceRow struct {
	Prefix string `gorm:"column:prefix;primaryKey;size:3"`
	Next   uint64 `gorm:"column:next_seq"`
}

// TableName implements the gorm table-name override.
func (SequenceRow) TableName() string { return "kid_sequences" }

// Sequencer allocates monotonically increasing sequence numbers per prefix
// from a database-backed counter, so identifiers stay unique across
// processes sharing a tenant database.
type Sequencer struct {
	db *gorm.DB
}

// NewSequencer creates a Sequencer over db.
func NewSequencer(db *gorm.DB) *Sequencer {
	return &Sequencer{db: db}
}

// AutoMigrate creates the sequence table.
func (s *Sequencer) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SequenceRow{}); err != nil {
		return fmt.Errorf("auto-migrate kid_sequences: %w", err)
	}
	return nil
}

// Next allocates the next KID for prefix inside tx. The counter row is read
// with an update lock so concurrent transactions on dialects that support
// row locking serialize on the prefix.
func (s *Sequencer) Next(tx *gorm.DB, prefix string) (KID, error) {
	if tx == nil {
		tx = s.db
	}
	q := tx
	// sqlite has no SELECT ... FOR UPDATE; its writer lock serializes anyway.
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row SequenceRow
	err := q.Where("prefix = ?", prefix).First(&row).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		row = SequenceRow{Prefix: prefix, Next: 1}
		if err := tx.Create(&row).Error; err != nil {
			return "", fmt.Errorf("create kid sequence %q: %w", prefix, err)
		}
	case err != nil:
		return "", fmt.Errorf("read kid sequence %q: %w", prefix, err)
	}

	k, err := New(prefix, row.Next)
	if err != nil {
		return "", err
	}
	row.Next++
	if err := tx.Model(&SequenceRow{}).Where("prefix = ?", prefix).
		Update("next_seq", row.Next).Error; err != nil {
		return "", fmt.Errorf("advance kid sequence %q: %w", prefix, err)
	}
	return k, nil
}
