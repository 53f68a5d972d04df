package dal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitebase/kitebase/pkg/assoc"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
	"github.com/kitebase/kitebase/pkg/sharing"
)

// seedStaffing loads the fixture schema with two departments, three
// employees and two companies. Carol has no department and no values
// besides her identifier; Void Ltd has no employees.
type staffing struct {
	fixture
	ops, lab        kid.KID
	ada, bob, carol kid.KID
	acme, void      kid.KID
}

func seedStaffing(t *testing.T, reg *meta.Registry, res *assoc.Resolver) staffing {
	t.Helper()
	fx := buildFixture(t, reg, res)
	s := staffing{
		fixture: fx,
		ops:     kid.MustNew(fx.department.Prefix, 1),
		lab:     kid.MustNew(fx.department.Prefix, 2),
		ada:     kid.MustNew(fx.employee.Prefix, 1),
		bob:     kid.MustNew(fx.employee.Prefix, 2),
		carol:   kid.MustNew(fx.employee.Prefix, 3),
		acme:    kid.MustNew(fx.company.Prefix, 1),
		void:    kid.MustNew(fx.company.Prefix, 2),
	}
	insertRow(t, reg, fx.department.Table, "kid, name", s.ops.String(), "Ops")
	insertRow(t, reg, fx.department.Table, "kid, name", s.lab.String(), "Lab")
	insertRow(t, reg, fx.employee.Table, "kid, first_name, age, active, department",
		s.ada.String(), "Ada", 36, true, s.ops.String())
	insertRow(t, reg, fx.employee.Table, "kid, first_name, age, active, department",
		s.bob.String(), "Bob", 23, false, s.lab.String())
	insertRow(t, reg, fx.employee.Table, "kid", s.carol.String())
	insertRow(t, reg, fx.company.Table, "kid, name", s.acme.String(), "Acme")
	insertRow(t, reg, fx.company.Table, "kid, name", s.void.String(), "Void")

	ctx := context.Background()
	require.NoError(t, res.Associate(ctx, fx.employees.KID, s.acme, s.ada))
	require.NoError(t, res.Associate(ctx, fx.employees.KID, s.acme, s.bob))
	return s
}

func mustList(t *testing.T, c *Compiler, text string, principal kid.KID) []*record.Record {
	t.Helper()
	q, err := c.Compile(context.Background(), text, principal)
	require.NoError(t, err)
	recs, err := q.List(context.Background())
	require.NoError(t, err)
	return recs
}

func TestListMaterializesTriState(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	s := seedStaffing(t, reg, res)

	recs := mustList(t, c, "select firstName, age, active from app.Employee order by id", "")
	require.Len(t, recs, 3)

	ada := recs[0]
	assert.Equal(t, s.ada, ada.ID())
	name, err := ada.Get("firstName")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)
	age, err := ada.Get("age")
	require.NoError(t, err)
	assert.EqualValues(t, 36, age)
	active, err := ada.Get("active")
	require.NoError(t, err)
	assert.Equal(t, true, active)

	carol := recs[2]
	assert.True(t, carol.IsNull("firstName"), "projected NULL must be explicitly null")
	assert.True(t, carol.IsNull("age"))
	assert.False(t, carol.IsSet("department"), "unprojected fields stay unset")
}

func TestListNestsReferenceTargets(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	s := seedStaffing(t, reg, res)

	recs := mustList(t, c, "select firstName, department.name from app.Employee order by id", "")
	require.Len(t, recs, 3)

	dept, err := recs[0].Related("department")
	require.NoError(t, err)
	require.NotNil(t, dept)
	assert.Equal(t, s.ops, dept.ID())
	name, err := dept.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Ops", name)

	assert.True(t, recs[2].IsNull("department"), "a NULL reference is null, not absent")
}

func TestListHydratesAssociation(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	seedStaffing(t, reg, res)

	recs := mustList(t, c, "select name, employees.firstName from app.Company order by name", "")
	require.Len(t, recs, 2)

	acmeStaff, err := recs[0].Children("employees")
	require.NoError(t, err)
	require.Len(t, acmeStaff, 2)
	first, err := acmeStaff[0].Get("firstName")
	require.NoError(t, err)
	assert.Equal(t, "Ada", first)

	voidStaff, err := recs[1].Children("employees")
	require.NoError(t, err)
	assert.NotNil(t, voidStaff, "childless parents carry an empty list, never nil")
	assert.Empty(t, voidStaff)
}

func TestListHydratesCollection(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	seedStaffing(t, reg, res)

	recs := mustList(t, c, "select name, staff.firstName from app.Department order by name", "")
	require.Len(t, recs, 2)

	labStaff, err := recs[0].Children("staff")
	require.NoError(t, err)
	require.Len(t, labStaff, 1)
	first, err := labStaff[0].Get("firstName")
	require.NoError(t, err)
	assert.Equal(t, "Bob", first)
}

func TestChildPredicates(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	s := seedStaffing(t, reg, res)

	recs := mustList(t, c, "select name from app.Company where employees.firstName = 'Bob'", "")
	require.Len(t, recs, 1)
	assert.Equal(t, s.acme, recs[0].ID())

	recs = mustList(t, c, "select name from app.Department where staff.age > 30", "")
	require.Len(t, recs, 1)
	assert.Equal(t, s.ops, recs[0].ID())
}

func TestSubqueryCondition(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	s := seedStaffing(t, reg, res)

	recs := mustList(t, c,
		"select firstName from app.Employee where department in (select id from app.Department where name = 'Ops')", "")
	require.Len(t, recs, 1)
	assert.Equal(t, s.ada, recs[0].ID())
}

func TestLimitOffsetAndLiterals(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	s := seedStaffing(t, reg, res)

	recs := mustList(t, c, "select id from app.Employee order by id limit 1 offset 1", "")
	require.Len(t, recs, 1)
	assert.Equal(t, s.bob, recs[0].ID())

	recs = mustList(t, c, "select id from app.Employee where active = false", "")
	require.Len(t, recs, 1)
	assert.Equal(t, s.bob, recs[0].ID())

	recs = mustList(t, c, "select id from app.Employee where firstName in ('Ada', 'Bob') order by id", "")
	require.Len(t, recs, 2)
}

func TestSingleRecord(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	ctx := context.Background()
	seedStaffing(t, reg, res)

	q, err := c.Compile(ctx, "select firstName from app.Employee where firstName = 'Ada'", "")
	require.NoError(t, err)
	rec, err := q.SingleRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)

	q, err = c.Compile(ctx, "select id from app.Employee where firstName = 'Zed'", "")
	require.NoError(t, err)
	rec, err = q.SingleRecord(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "no match yields nil without error")

	q, err = c.Compile(ctx, "select id from app.Employee", "")
	require.NoError(t, err)
	_, err = q.SingleRecord(ctx)
	require.Error(t, err, "multiple matches must refuse")
}

func TestCount(t *testing.T) {
	c, reg, res, _ := newTestDAL(t)
	ctx := context.Background()
	seedStaffing(t, reg, res)

	q, err := c.Compile(ctx, "select id from app.Employee where age < 30", "")
	require.NoError(t, err)
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestVisibilityFollowsGrants(t *testing.T) {
	c, reg, res, sec := newTestDAL(t)
	ctx := context.Background()
	s := seedStaffing(t, reg, res)
	user := kid.MustNew("usr", 1)

	// Nothing shared: the user sees nothing.
	recs := mustList(t, c, "select id from app.Employee order by id", user)
	assert.Empty(t, recs)

	require.NoError(t, sec.ShareRecord(ctx, s.ada, user, sharing.Rights{Read: true}, "handover"))
	recs = mustList(t, c, "select id from app.Employee order by id", user)
	require.Len(t, recs, 1)
	assert.Equal(t, s.ada, recs[0].ID())

	// A read-all override opens the whole type, even through the plan
	// compiled before the override existed.
	require.NoError(t, sec.SetReadAll(ctx, user, s.employee.KID, true))
	recs = mustList(t, c, "select id from app.Employee order by id", user)
	assert.Len(t, recs, 3)
}

func TestVisibilityThroughGroupMembership(t *testing.T) {
	c, reg, res, sec := newTestDAL(t)
	ctx := context.Background()
	s := seedStaffing(t, reg, res)
	user := kid.MustNew("usr", 2)

	group, err := sec.CreateGroup(ctx, "readers")
	require.NoError(t, err)
	require.NoError(t, sec.ShareRecordWithGroup(ctx, s.bob, group, sharing.Rights{Read: true}, "team"))

	recs := mustList(t, c, "select id from app.Employee", user)
	assert.Empty(t, recs)

	// Joining the group takes effect without recompiling.
	require.NoError(t, sec.AddMember(ctx, group, user, sharing.GranteeUser))
	recs = mustList(t, c, "select id from app.Employee", user)
	require.Len(t, recs, 1)
	assert.Equal(t, s.bob, recs[0].ID())
}
