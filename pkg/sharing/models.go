// Package sharing implements the row-level security engine: per-record
// grants for users and groups, the transitive group hierarchy, the
// permission checks gating every query and write, and the cascade-setting
// resolver that rides the same hierarchy.
package sharing

import "time"

// GranteeKind distinguishes user and group grantees.
type GranteeKind string

const (
	// GranteeUser marks a grant held directly by a user.
	GranteeUser GranteeKind = "user"
	// GranteeGroup marks a grant held by a group and inherited by its
	// direct and transitive members.
	GranteeGroup GranteeKind = "group"
)

// Grant is one row-level permission entry. Generic grants derive from an
// ownership field and are replaced wholesale when that field changes;
// manual grants are created explicitly and persist independently.
type Grant struct {
	ID          string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	RecordKID   string      `gorm:"column:record_kid;index:idx_grant_record;type:varchar(16);not null"`
	GranteeKID  string      `gorm:"column:grantee_kid;index:idx_grant_grantee;type:varchar(16);not null"`
	GranteeKind GranteeKind `gorm:"column:grantee_kind;type:varchar(8);not null"`
	CanRead     bool        `gorm:"column:can_read"`
	CanEdit     bool        `gorm:"column:can_edit"`
	CanDelete   bool        `gorm:"column:can_delete"`
	Generic     bool        `gorm:"column:generic"`
	Reason      string      `gorm:"column:reason"`
	RuleID      string      `gorm:"column:rule_id;type:varchar(36)"`
	CreatedAt   time.Time   `gorm:"column:created_at"`
}

// TableName implements the gorm table-name override.
func (Grant) TableName() string { return "record_grants" }

// Group is a named principal that can hold grants and contain users or
// other groups.
type Group struct {
	KID  string `gorm:"primaryKey;column:kid;type:varchar(16)"`
	Name string `gorm:"column:name;uniqueIndex;not null"`
}

// TableName implements the gorm table-name override.
func (Group) TableName() string { return "sharing_groups" }

// GroupMember is one membership edge: a user or group belonging to a group.
type GroupMember struct {
	GroupKID   string      `gorm:"primaryKey;column:group_kid;type:varchar(16)"`
	MemberKID  string      `gorm:"primaryKey;column:member_kid;type:varchar(16)"`
	MemberKind GranteeKind `gorm:"column:member_kind;type:varchar(8);not null"`
}

// TableName implements the gorm table-name override.
func (GroupMember) TableName() string { return "sharing_group_members" }

// TypeOverride records a type-level read-all override for a user, letting
// queries against sharing-controlled types skip the grant filter.
type TypeOverride struct {
	UserKID string `gorm:"primaryKey;column:user_kid;type:varchar(16)"`
	TypeKID string `gorm:"primaryKey;column:type_kid;type:varchar(16)"`
	ReadAll bool   `gorm:"column:read_all"`
}

// TableName implements the gorm table-name override.
func (TypeOverride) TableName() string { return "sharing_type_overrides" }

// Setting is one cascade-setting entry owned by a user or group. Unlike
// grants, settings resolve through the hierarchy with ambiguity detection
// rather than union.
type Setting struct {
	OwnerKID  string      `gorm:"primaryKey;column:owner_kid;type:varchar(16)"`
	OwnerKind GranteeKind `gorm:"column:owner_kind;type:varchar(8);not null"`
	Key       string      `gorm:"primaryKey;column:setting_key;not null"`
	Value     string      `gorm:"column:setting_value"`
}

// TableName implements the gorm table-name override.
func (Setting) TableName() string { return "cascade_settings" }

// Rights bundles the three permission booleans of a grant.
type Rights struct {
	Read   bool
	Edit   bool
	Delete bool
}

// FullRights grants read, edit and delete.
func FullRights() Rights { return Rights{Read: true, Edit: true, Delete: true} }

// ReadOnly grants read only.
func ReadOnly() Rights { return Rights{Read: true} }
