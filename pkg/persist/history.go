package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

// FieldChange is one recorded value transition of a history-tracked field.
type FieldChange struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	RecordKID string    `gorm:"column:record_kid;index;type:varchar(16);not null"`
	FieldKID  string    `gorm:"column:field_kid;type:varchar(16);not null"`
	OldValue  *string   `gorm:"column:old_value"`
	NewValue  *string   `gorm:"column:new_value"`
	ChangedBy string    `gorm:"column:changed_by;type:varchar(16)"`
	ChangedAt time.Time `gorm:"column:changed_at"`
}

// TableName implements the gorm table-name override.
func (FieldChange) TableName() string { return "field_history" }

func writeChange(tx *gorm.DB, recordKID, fieldKID, principal kid.KID, old, new *string) error {
	change := FieldChange{
		ID:        uuid.NewString(),
		RecordKID: string(recordKID),
		FieldKID:  string(fieldKID),
		OldValue:  old,
		NewValue:  new,
		ChangedBy: string(principal),
		ChangedAt: time.Now().UTC(),
	}
	if err := tx.Create(&change).Error; err != nil {
		return errdef.Internal(err, "recording change of field %s on %s", fieldKID, recordKID)
	}
	return nil
}

// History returns the recorded changes of one field on one record, oldest
// first.
func (s *Service) History(ctx context.Context, recordKID, fieldKID kid.KID) ([]FieldChange, error) {
	var changes []FieldChange
	err := s.reg.DB().WithContext(ctx).
		Where("record_kid = ? AND field_kid = ?", string(recordKID), string(fieldKID)).
		Order("changed_at, id").
		Find(&changes).Error
	if err != nil {
		return nil, errdef.Internal(err, "reading history of %s", recordKID)
	}
	return changes, nil
}

// historyString renders a stored value for the history log. Datetimes go
// through one canonical rendering, whether they arrive as a record's
// time.Time or as the driver's string pre-image, so an unchanged field never
// records a spurious transition. nil stands for both SQL NULL and never-set.
func historyString(f *meta.Field, v any) *string {
	if v == nil {
		return nil
	}
	if f.Kind == meta.DataTypeDateTime {
		if t, ok := asTime(v); ok {
			s := t.UTC().Format(time.RFC3339)
			return &s
		}
	}
	if b, ok := v.([]byte); ok {
		s := string(b)
		return &s
	}
	s := fmt.Sprint(v)
	return &s
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseStoredTime(t)
	case []byte:
		return parseStoredTime(string(t))
	}
	return time.Time{}, false
}

// parseStoredTime covers the renderings the supported drivers hand back for
// timestamp columns. Layouts without a zone are read as UTC, which is what
// the service binds on write.
func parseStoredTime(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
