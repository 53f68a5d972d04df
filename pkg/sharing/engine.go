package sharing

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

// GroupPrefix is the identifier prefix for sharing groups.
const GroupPrefix = "grp"

// Engine computes and maintains row-level grants. All reads go through a
// short-lived permission cache that is invalidated on every grant write for
// the affected record.
type Engine struct {
	db    *gorm.DB
	seq   *kid.Sequencer
	cache *permCache
}

// NewEngine creates an Engine over the tenant database.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db, seq: kid.NewSequencer(db), cache: newPermCache(defaultPermTTL)}
}

// AutoMigrate creates the sharing tables.
func (e *Engine) AutoMigrate() error {
	if err := e.db.AutoMigrate(&Grant{}, &Group{}, &GroupMember{}, &TypeOverride{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate sharing tables: %w", err)
	}
	return e.seq.AutoMigrate()
}

// Principals returns the effective principal set for a user: the user
// itself plus every group reachable through direct and transitive
// membership. Multiple paths to the same group collapse; cycles terminate.
func (e *Engine) Principals(ctx context.Context, userKID kid.KID) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet(string(userKID))
	frontier := []string{string(userKID)}
	for len(frontier) > 0 {
		var memberships []GroupMember
		if err := e.db.WithContext(ctx).
			Where("member_kid IN ?", frontier).
			Find(&memberships).Error; err != nil {
			return nil, errdef.Internal(err, "loading group memberships")
		}
		frontier = frontier[:0]
		for _, m := range memberships {
			if seen.Add(m.GroupKID) {
				frontier = append(frontier, m.GroupKID)
			}
		}
	}
	return seen.ToSlice(), nil
}

// can checks one permission column for a record against the user's
// effective principal set, consulting the cache first. Grants from multiple
// principals union to the most permissive outcome.
func (e *Engine) can(ctx context.Context, column string, recordKID, userKID kid.KID) (bool, error) {
	key := permKey(recordKID, userKID, column)
	if allowed, ok := e.cache.get(key); ok {
		return allowed, nil
	}
	principals, err := e.Principals(ctx, userKID)
	if err != nil {
		return false, err
	}
	var n int64
	err = e.db.WithContext(ctx).Model(&Grant{}).
		Where("record_kid = ? AND grantee_kid IN ? AND "+column+" = ?", string(recordKID), principals, true).
		Count(&n).Error
	if err != nil {
		return false, errdef.Internal(err, "checking %s on record %s", column, recordKID)
	}
	allowed := n > 0
	e.cache.put(key, allowed)
	return allowed, nil
}

// CanViewRecord reports whether the user may read the record.
func (e *Engine) CanViewRecord(ctx context.Context, recordKID, userKID kid.KID) (bool, error) {
	return e.can(ctx, "can_read", recordKID, userKID)
}

// CanEditRecord reports whether the user may edit the record.
func (e *Engine) CanEditRecord(ctx context.Context, recordKID, userKID kid.KID) (bool, error) {
	return e.can(ctx, "can_edit", recordKID, userKID)
}

// CanDeleteRecord reports whether the user may delete the record.
func (e *Engine) CanDeleteRecord(ctx context.Context, recordKID, userKID kid.KID) (bool, error) {
	return e.can(ctx, "can_delete", recordKID, userKID)
}

// ShareRecord creates a manual grant for a user.
func (e *Engine) ShareRecord(ctx context.Context, recordKID, userKID kid.KID, rights Rights, reason string) error {
	return e.share(ctx, recordKID, userKID, GranteeUser, rights, reason)
}

// ShareRecordWithGroup creates a manual grant for a group.
func (e *Engine) ShareRecordWithGroup(ctx context.Context, recordKID, groupKID kid.KID, rights Rights, reason string) error {
	return e.share(ctx, recordKID, groupKID, GranteeGroup, rights, reason)
}

func (e *Engine) share(ctx context.Context, recordKID, granteeKID kid.KID, kind GranteeKind, rights Rights, reason string) error {
	g := Grant{
		ID:          uuid.NewString(),
		RecordKID:   string(recordKID),
		GranteeKID:  string(granteeKID),
		GranteeKind: kind,
		CanRead:     rights.Read,
		CanEdit:     rights.Edit,
		CanDelete:   rights.Delete,
		Reason:      reason,
	}
	if err := e.db.WithContext(ctx).Create(&g).Error; err != nil {
		return errdef.Internal(err, "sharing record %s with %s", recordKID, granteeKID)
	}
	e.cache.invalidate(recordKID)
	return nil
}

// UnshareRecord removes manual grants held by the grantee on the record.
// Generic grants are owned by the ownership field and are not touched.
func (e *Engine) UnshareRecord(ctx context.Context, recordKID, granteeKID kid.KID) error {
	err := e.db.WithContext(ctx).
		Where("record_kid = ? AND grantee_kid = ? AND generic = ?", string(recordKID), string(granteeKID), false).
		Delete(&Grant{}).Error
	if err != nil {
		return errdef.Internal(err, "unsharing record %s from %s", recordKID, granteeKID)
	}
	e.cache.invalidate(recordKID)
	return nil
}

// GrantFilter selects grants in Find. Zero members match everything.
type GrantFilter struct {
	RecordKID  kid.KID
	GranteeKID kid.KID
	Generic    *bool
}

// Find lists grants matching the filter.
func (e *Engine) Find(ctx context.Context, f GrantFilter) ([]Grant, error) {
	q := e.db.WithContext(ctx).Model(&Grant{})
	if f.RecordKID != "" {
		q = q.Where("record_kid = ?", string(f.RecordKID))
	}
	if f.GranteeKID != "" {
		q = q.Where("grantee_kid = ?", string(f.GranteeKID))
	}
	if f.Generic != nil {
		q = q.Where("generic = ?", *f.Generic)
	}
	var grants []Grant
	if err := q.Order("created_at").Find(&grants).Error; err != nil {
		return nil, errdef.Internal(err, "listing grants")
	}
	return grants, nil
}

// ReassignGeneric atomically replaces the generic grant on a record: the
// previous owner's generic grant is revoked and the new owner's installed
// inside tx, so a concurrent reader never observes neither or both. Manual
// grants are untouched. An empty newOwner only revokes.
func (e *Engine) ReassignGeneric(tx *gorm.DB, recordKID, newOwner kid.KID, rights Rights, ruleID string) error {
	own := tx == nil
	if own {
		tx = e.db
	}
	err := tx.Where("record_kid = ? AND generic = ?", string(recordKID), true).
		Delete(&Grant{}).Error
	if err != nil {
		return errdef.Internal(err, "revoking generic grant on %s", recordKID)
	}
	if newOwner != "" {
		g := Grant{
			ID:          uuid.NewString(),
			RecordKID:   string(recordKID),
			GranteeKID:  string(newOwner),
			GranteeKind: GranteeUser,
			CanRead:     rights.Read,
			CanEdit:     rights.Edit,
			CanDelete:   rights.Delete,
			Generic:     true,
			Reason:      "ownership",
			RuleID:      ruleID,
		}
		if err := tx.Create(&g).Error; err != nil {
			return errdef.Internal(err, "installing generic grant on %s", recordKID)
		}
	}
	// Inside a caller's transaction the cache stays untouched until commit:
	// dropping entries early lets a concurrent check re-cache the
	// pre-commit answer. The caller invalidates via InvalidatePermissions
	// once the transaction has committed.
	if own {
		e.cache.invalidate(recordKID)
	}
	return nil
}

// DeleteGrantsFor removes every grant referencing a deleted record. As with
// ReassignGeneric, callers running inside a transaction invalidate after
// commit.
func (e *Engine) DeleteGrantsFor(tx *gorm.DB, recordKID kid.KID) error {
	own := tx == nil
	if own {
		tx = e.db
	}
	if err := tx.Where("record_kid = ?", string(recordKID)).Delete(&Grant{}).Error; err != nil {
		return errdef.Internal(err, "deleting grants for %s", recordKID)
	}
	if own {
		e.cache.invalidate(recordKID)
	}
	return nil
}

// InvalidatePermissions drops cached permission results for the record.
// Call it after committing a transaction that changed the record's grants.
func (e *Engine) InvalidatePermissions(recordKID kid.KID) {
	e.cache.invalidate(recordKID)
}

// SetReadAll installs or clears the type-level read-all override for a
// user.
func (e *Engine) SetReadAll(ctx context.Context, userKID, typeKID kid.KID, readAll bool) error {
	if !readAll {
		err := e.db.WithContext(ctx).
			Where("user_kid = ? AND type_kid = ?", string(userKID), string(typeKID)).
			Delete(&TypeOverride{}).Error
		if err != nil {
			return errdef.Internal(err, "clearing read-all override")
		}
		return nil
	}
	o := TypeOverride{UserKID: string(userKID), TypeKID: string(typeKID), ReadAll: true}
	if err := e.db.WithContext(ctx).Save(&o).Error; err != nil {
		return errdef.Internal(err, "installing read-all override")
	}
	return nil
}

// HasReadAll reports whether the user holds the type-level read-all
// override.
func (e *Engine) HasReadAll(ctx context.Context, userKID, typeKID kid.KID) (bool, error) {
	var n int64
	err := e.db.WithContext(ctx).Model(&TypeOverride{}).
		Where("user_kid = ? AND type_kid = ? AND read_all = ?", string(userKID), string(typeKID), true).
		Count(&n).Error
	if err != nil {
		return false, errdef.Internal(err, "checking read-all override")
	}
	return n > 0, nil
}

// ReadFilter returns a parameterized predicate restricting an identifier
// column to records the user can read, for embedding in compiled queries.
func (e *Engine) ReadFilter(ctx context.Context, userKID kid.KID, idColumn string) (string, []any, error) {
	principals, err := e.Principals(ctx, userKID)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("%s IN (SELECT record_kid FROM record_grants WHERE can_read = ? AND grantee_kid IN ?)", idColumn)
	return sql, []any{true, principals}, nil
}

// PrincipalsOf is a deferred bind parameter standing for the user's
// principal set. Compiled query plans carry it instead of a concrete list
// so group membership is read when the query runs, not when it compiles.
type PrincipalsOf kid.KID

// VisibilityFilter builds the row-visibility predicate for one query
// scope: the identifier column must be granted to one of the user's
// principals, unless the user holds a read-all override on the type. The
// SQL text is static; pass the args through ExpandArgs at execution.
func (e *Engine) VisibilityFilter(idColumn string, userKID, typeKID kid.KID) (string, []any) {
	sql := fmt.Sprintf("(%s IN (SELECT record_kid FROM record_grants WHERE can_read = ? AND grantee_kid IN ?)"+
		" OR EXISTS (SELECT 1 FROM sharing_type_overrides WHERE user_kid = ? AND type_kid = ? AND read_all = ?))",
		idColumn)
	return sql, []any{true, PrincipalsOf(userKID), string(userKID), string(typeKID), true}
}

// ExpandArgs resolves deferred PrincipalsOf parameters into the current
// principal sets. Plain arguments pass through untouched.
func (e *Engine) ExpandArgs(ctx context.Context, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		p, ok := a.(PrincipalsOf)
		if !ok {
			out[i] = a
			continue
		}
		principals, err := e.Principals(ctx, kid.KID(p))
		if err != nil {
			return nil, err
		}
		out[i] = principals
	}
	return out, nil
}
