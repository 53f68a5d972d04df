package sharing

import (
	"context"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

// CreateGroup creates a named group and returns its identifier.
func (e *Engine) CreateGroup(ctx context.Context, name string) (kid.KID, error) {
	var groupKID kid.KID
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		k, err := e.seq.Next(tx, GroupPrefix)
		if err != nil {
			return err
		}
		groupKID = k
		return tx.Create(&Group{KID: string(k), Name: name}).Error
	})
	if err != nil {
		return "", errdef.Internal(err, "creating group %q", name)
	}
	return groupKID, nil
}

// AddMember adds a user or group to a group. Adding an existing membership
// is a no-op.
func (e *Engine) AddMember(ctx context.Context, groupKID, memberKID kid.KID, kind GranteeKind) error {
	m := GroupMember{GroupKID: string(groupKID), MemberKID: string(memberKID), MemberKind: kind}
	err := e.db.WithContext(ctx).
		Where(&GroupMember{GroupKID: m.GroupKID, MemberKID: m.MemberKID}).
		FirstOrCreate(&m).Error
	if err != nil {
		return errdef.Internal(err, "adding %s to group %s", memberKID, groupKID)
	}
	e.cache.clear()
	return nil
}

// RemoveMember removes a membership edge.
func (e *Engine) RemoveMember(ctx context.Context, groupKID, memberKID kid.KID) error {
	err := e.db.WithContext(ctx).
		Where("group_kid = ? AND member_kid = ?", string(groupKID), string(memberKID)).
		Delete(&GroupMember{}).Error
	if err != nil {
		return errdef.Internal(err, "removing %s from group %s", memberKID, groupKID)
	}
	e.cache.clear()
	return nil
}

// Members lists the direct members of a group.
func (e *Engine) Members(ctx context.Context, groupKID kid.KID) ([]GroupMember, error) {
	var members []GroupMember
	err := e.db.WithContext(ctx).
		Where("group_kid = ?", string(groupKID)).
		Order("member_kid").
		Find(&members).Error
	if err != nil {
		return nil, errdef.Internal(err, "listing members of %s", groupKID)
	}
	return members, nil
}
