package meta

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringSlice is a custom GORM type for []string stored as JSON.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONStringSlice: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// TypeDef is the persisted form of a type definition.
type TypeDef struct {
	KID                 string `gorm:"primaryKey;column:kid;type:varchar(16)"`
	Package             string `gorm:"column:package;uniqueIndex:idx_meta_type_name,priority:1;not null"`
	APIName             string `gorm:"column:api_name;uniqueIndex:idx_meta_type_name,priority:2;not null"`
	Label               string `gorm:"column:label"`
	Prefix              string `gorm:"column:prefix;uniqueIndex;type:varchar(3);not null"`
	StorageTable        string `gorm:"column:storage_table;not null"`
	Basic               bool   `gorm:"column:basic"`
	Draft               bool   `gorm:"column:draft"`
	SharingControlledBy string `gorm:"column:sharing_controlled_by;type:varchar(16)"`
	Description         string `gorm:"column:description;type:varchar(1000)"`
}

// TableName implements the gorm table-name override.
func (TypeDef) TableName() string { return "meta_types" }

// FieldDef is the persisted form of a field definition.
type FieldDef struct {
	KID          string `gorm:"primaryKey;column:kid;type:varchar(16)"`
	TypeKID      string `gorm:"column:type_kid;uniqueIndex:idx_meta_field_name,priority:1;type:varchar(16);not null"`
	APIName      string `gorm:"column:api_name;uniqueIndex:idx_meta_field_name,priority:2;not null"`
	Label        string `gorm:"column:label"`
	Column       string `gorm:"column:column_name"`
	Kind         string `gorm:"column:kind;not null"`
	Required     bool   `gorm:"column:required"`
	DefaultValue string `gorm:"column:default_value"`
	TrackHistory bool   `gorm:"column:track_history"`
	Length       int    `gorm:"column:length"`

	EnumValues JSONStringSlice `gorm:"column:enum_values;type:text"`

	// Reference and collection target.
	RefTypeKID    string `gorm:"column:ref_type_kid;type:varchar(16)"`
	CascadeDelete bool   `gorm:"column:cascade_delete"`

	// Association wiring: the linking type and its two reference fields.
	LinkTypeKID     string `gorm:"column:link_type_kid;type:varchar(16)"`
	SelfFieldKID    string `gorm:"column:self_field_kid;type:varchar(16)"`
	ForeignFieldKID string `gorm:"column:foreign_field_kid;type:varchar(16)"`

	// Inverse collection: the reference field on the child type that
	// points back at the parent.
	TargetFieldKID string `gorm:"column:target_field_kid;type:varchar(16)"`

	// AutoGenerated marks linking-type fields created by the platform.
	AutoGenerated bool `gorm:"column:auto_generated"`

	Position int `gorm:"column:position"`
}

// TableName implements the gorm table-name override.
func (FieldDef) TableName() string { return "meta_fields" }

// UniqueCheckDef is the persisted form of a uniqueness check: a named set
// of fields whose combined values must be unique across a type's records.
type UniqueCheckDef struct {
	KID       string          `gorm:"primaryKey;column:kid;type:varchar(16)"`
	TypeKID   string          `gorm:"column:type_kid;uniqueIndex:idx_meta_unique_name,priority:1;type:varchar(16);not null"`
	Name      string          `gorm:"column:name;uniqueIndex:idx_meta_unique_name,priority:2;not null"`
	Label     string          `gorm:"column:label"`
	FieldKIDs JSONStringSlice `gorm:"column:field_kids;type:text;not null"`
}

// TableName implements the gorm table-name override.
func (UniqueCheckDef) TableName() string { return "meta_unique_checks" }
