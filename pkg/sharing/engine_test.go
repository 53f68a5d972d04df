package sharing

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	e := NewEngine(db)
	require.NoError(t, e.AutoMigrate())
	return e
}

var (
	rec1 = kid.MustNew("tsk", 1)
	rec2 = kid.MustNew("tsk", 2)
	u1   = kid.MustNew("usr", 1)
	u2   = kid.MustNew("usr", 2)
)

func TestManualShareAndUnshare(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	ok, err := e.CanViewRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.False(t, ok, "no grant yet")

	require.NoError(t, e.ShareRecord(ctx, rec1, u1, ReadOnly(), "handover"))

	ok, err = e.CanViewRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.CanEditRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.False(t, ok, "read-only grant")

	require.NoError(t, e.UnshareRecord(ctx, rec1, u1))
	ok, err = e.CanViewRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.False(t, ok, "cache must not serve the revoked grant")
}

func TestGroupGrantInheritedTransitively(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	parent, err := e.CreateGroup(ctx, "engineering")
	require.NoError(t, err)
	child, err := e.CreateGroup(ctx, "backend")
	require.NoError(t, err)
	require.NoError(t, e.AddMember(ctx, parent, child, GranteeGroup))
	require.NoError(t, e.AddMember(ctx, child, u1, GranteeUser))

	require.NoError(t, e.ShareRecordWithGroup(ctx, rec1, parent, FullRights(), "team record"))

	ok, err := e.CanEditRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.True(t, ok, "membership two levels down must inherit the grant")

	ok, err = e.CanEditRecord(ctx, rec1, u2)
	require.NoError(t, err)
	assert.False(t, ok, "non-member gets nothing")
}

func TestSiblingGroupGrantsUnion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a, err := e.CreateGroup(ctx, "sales")
	require.NoError(t, err)
	b, err := e.CreateGroup(ctx, "support")
	require.NoError(t, err)
	require.NoError(t, e.AddMember(ctx, a, u1, GranteeUser))
	require.NoError(t, e.AddMember(ctx, b, u1, GranteeUser))

	require.NoError(t, e.ShareRecordWithGroup(ctx, rec1, a, ReadOnly(), ""))
	require.NoError(t, e.ShareRecordWithGroup(ctx, rec1, b, Rights{Edit: true}, ""))

	// Union semantics: the most permissive combination wins, never an error.
	ok, err := e.CanViewRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.CanEditRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.CanDeleteRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMembershipCycleTerminates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a, err := e.CreateGroup(ctx, "a")
	require.NoError(t, err)
	b, err := e.CreateGroup(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, e.AddMember(ctx, a, b, GranteeGroup))
	require.NoError(t, e.AddMember(ctx, b, a, GranteeGroup))
	require.NoError(t, e.AddMember(ctx, a, u1, GranteeUser))

	principals, err := e.Principals(ctx, u1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{u1.String(), a.String(), b.String()}, principals)
}

func TestReassignGenericIsAtomic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// u1 owns the record; u2 also has a manual grant.
	require.NoError(t, e.ReassignGeneric(nil, rec1, u1, FullRights(), "rule-1"))
	require.NoError(t, e.ShareRecord(ctx, rec1, u2, ReadOnly(), "manual"))

	ok, _ := e.CanViewRecord(ctx, rec1, u1)
	assert.True(t, ok)

	// Reassign ownership to u2 in one transaction.
	err := e.db.Transaction(func(tx *gorm.DB) error {
		return e.ReassignGeneric(tx, rec1, u2, FullRights(), "rule-1")
	})
	require.NoError(t, err)
	e.InvalidatePermissions(rec1)

	ok, _ = e.CanViewRecord(ctx, rec1, u1)
	assert.False(t, ok, "previous owner's generic grant revoked")
	ok, _ = e.CanDeleteRecord(ctx, rec1, u2)
	assert.True(t, ok, "new owner's generic grant installed")

	// Exactly one generic grant exists; the manual grant survived.
	generic := true
	grants, err := e.Find(ctx, GrantFilter{RecordKID: rec1, Generic: &generic})
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, u2.String(), grants[0].GranteeKID)

	manual := false
	grants, err = e.Find(ctx, GrantFilter{RecordKID: rec1, Generic: &manual})
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, u2.String(), grants[0].GranteeKID)
	assert.Equal(t, "manual", grants[0].Reason)
}

func TestOwnershipChangeInvalidatesAfterCommit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ReassignGeneric(nil, rec1, u1, FullRights(), ""))
	ok, err := e.CanViewRecord(ctx, rec1, u1)
	require.NoError(t, err)
	require.True(t, ok)

	// While the reassignment transaction is open, checks keep answering
	// from the cache. Invalidating mid-transaction would let a concurrent
	// check re-read the uncommitted state and cache it past the commit.
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.ReassignGeneric(tx, rec1, u2, FullRights(), ""); err != nil {
			return err
		}
		ok, err := e.CanViewRecord(ctx, rec1, u1)
		require.NoError(t, err)
		assert.True(t, ok, "pre-commit answer stays served until the transaction ends")
		return nil
	})
	require.NoError(t, err)

	e.InvalidatePermissions(rec1)
	ok, err = e.CanViewRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.False(t, ok, "post-commit check must see the revocation")
}

func TestUnshareKeepsGenericGrant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ReassignGeneric(nil, rec1, u1, FullRights(), ""))
	require.NoError(t, e.ShareRecord(ctx, rec1, u1, ReadOnly(), "extra"))
	require.NoError(t, e.UnshareRecord(ctx, rec1, u1))

	ok, err := e.CanEditRecord(ctx, rec1, u1)
	require.NoError(t, err)
	assert.True(t, ok, "generic grant must survive unshare")
}

func TestReadFilterRestrictsToReadable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ShareRecord(ctx, rec1, u1, ReadOnly(), ""))
	require.NoError(t, e.ShareRecord(ctx, rec2, u2, ReadOnly(), ""))

	sql, args, err := e.ReadFilter(ctx, u1, "kid")
	require.NoError(t, err)

	// Evaluate the predicate against the grants table itself.
	var visible []string
	err = e.db.Raw("SELECT record_kid FROM record_grants WHERE "+sql, args...).Scan(&visible).Error
	require.NoError(t, err)
	assert.Equal(t, []string{rec1.String()}, visible)
}

func TestReadAllOverride(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	typeKID := kid.MustNew("typ", 9)

	ok, err := e.HasReadAll(ctx, u1, typeKID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.SetReadAll(ctx, u1, typeKID, true))
	ok, err = e.HasReadAll(ctx, u1, typeKID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.SetReadAll(ctx, u1, typeKID, false))
	ok, err = e.HasReadAll(ctx, u1, typeKID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteGrantsFor(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ShareRecord(ctx, rec1, u1, FullRights(), ""))
	require.NoError(t, e.ReassignGeneric(nil, rec1, u2, FullRights(), ""))
	require.NoError(t, e.DeleteGrantsFor(nil, rec1))

	grants, err := e.Find(ctx, GrantFilter{RecordKID: rec1})
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestResolveSettingPrecedenceAndAmbiguity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	groupA, err := e.CreateGroup(ctx, "a")
	require.NoError(t, err)
	groupB, err := e.CreateGroup(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, e.AddMember(ctx, groupA, u1, GranteeUser))
	require.NoError(t, e.AddMember(ctx, groupB, u1, GranteeUser))

	// Undefined anywhere.
	_, err = e.ResolveSetting(ctx, u1, "theme")
	assert.True(t, errdef.IsNotFoundErr(err))

	// Sibling groups agree: fine.
	require.NoError(t, e.PutSetting(ctx, groupA, GranteeGroup, "theme", "dark"))
	require.NoError(t, e.PutSetting(ctx, groupB, GranteeGroup, "theme", "dark"))
	v, err := e.ResolveSetting(ctx, u1, "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	// Sibling groups conflict: ambiguous, unlike grant union.
	require.NoError(t, e.PutSetting(ctx, groupB, GranteeGroup, "theme", "light"))
	_, err = e.ResolveSetting(ctx, u1, "theme")
	require.Error(t, err)
	assert.True(t, errdef.Is(err, errdef.KindAmbiguousSetting))

	// The user's own setting shadows the conflicting groups.
	require.NoError(t, e.PutSetting(ctx, u1, GranteeUser, "theme", "sepia"))
	v, err = e.ResolveSetting(ctx, u1, "theme")
	require.NoError(t, err)
	assert.Equal(t, "sepia", v)
}

func TestResolveSettingNearestLevelWins(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	near, err := e.CreateGroup(ctx, "near")
	require.NoError(t, err)
	far, err := e.CreateGroup(ctx, "far")
	require.NoError(t, err)
	require.NoError(t, e.AddMember(ctx, near, u1, GranteeUser))
	require.NoError(t, e.AddMember(ctx, far, near, GranteeGroup))

	require.NoError(t, e.PutSetting(ctx, far, GranteeGroup, "quota", "10"))
	require.NoError(t, e.PutSetting(ctx, near, GranteeGroup, "quota", "20"))

	v, err := e.ResolveSetting(ctx, u1, "quota")
	require.NoError(t, err)
	assert.Equal(t, "20", v, "the nearer level shadows the farther one")
}
