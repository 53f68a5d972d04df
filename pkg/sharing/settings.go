package sharing

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

// PutSetting stores a cascade setting for a user or group.
func (e *Engine) PutSetting(ctx context.Context, ownerKID kid.KID, kind GranteeKind, key, value string) error {
	s := Setting{OwnerKID: string(ownerKID), OwnerKind: kind, Key: key, Value: value}
	if err := e.db.WithContext(ctx).Save(&s).Error; err != nil {
		return errdef.Internal(err, "storing setting %q for %s", key, ownerKID)
	}
	return nil
}

// ResolveSetting resolves a cascade setting for a user by walking up the
// group hierarchy level by level: the user's own setting wins, then the
// nearest group level carrying the key. Unlike grants, which union across
// groups, settings must be unambiguous: two groups at the same level giving
// different values for the key is an error.
func (e *Engine) ResolveSetting(ctx context.Context, userKID kid.KID, key string) (string, error) {
	level := []string{string(userKID)}
	visited := mapset.NewThreadUnsafeSet(string(userKID))

	for len(level) > 0 {
		var settings []Setting
		err := e.db.WithContext(ctx).
			Where("owner_kid IN ? AND setting_key = ?", level, key).
			Find(&settings).Error
		if err != nil {
			return "", errdef.Internal(err, "loading setting %q", key)
		}
		values := mapset.NewThreadUnsafeSet[string]()
		for _, s := range settings {
			values.Add(s.Value)
		}
		switch values.Cardinality() {
		case 0:
			// keep climbing
		case 1:
			v, _ := values.Pop()
			return v, nil
		default:
			vs := values.ToSlice()
			sort.Strings(vs)
			return "", errdef.New(errdef.KindAmbiguousSetting,
				"setting %q resolves ambiguously for %s: conflicting values %v", key, userKID, vs)
		}

		var memberships []GroupMember
		if err := e.db.WithContext(ctx).
			Where("member_kid IN ?", level).
			Find(&memberships).Error; err != nil {
			return "", errdef.Internal(err, "loading group memberships")
		}
		level = level[:0]
		for _, m := range memberships {
			if visited.Add(m.GroupKID) {
				level = append(level, m.GroupKID)
			}
		}
		sort.Strings(level)
	}
	return "", errdef.NotFound("setting %q is not defined for %s or any of its groups", key, userKID)
}
