package assoc

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
)

func newTestResolver(t *testing.T) (*Resolver, *meta.Registry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	reg := meta.NewRegistry(db)
	require.NoError(t, reg.Migrate())
	require.NoError(t, reg.Load())
	return NewResolver(reg), reg
}

func insertRow(t *testing.T, reg *meta.Registry, table string, cols string, vals ...any) {
	t.Helper()
	placeholders := ""
	for i := range vals {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, placeholders)
	require.NoError(t, reg.DB().Exec(q, vals...).Error)
}

func TestCreateLinkingTypeSelfAssociation(t *testing.T) {
	r, reg := newTestResolver(t)
	pigeon, err := reg.CreateType(meta.TypeSpec{Package: "app", APIName: "Pigeon"})
	require.NoError(t, err)

	field, err := r.CreateAssociationField(pigeon.KID, "friends", pigeon.KID)
	require.NoError(t, err)
	assert.Equal(t, meta.DataTypeAssociation, field.Kind)

	link, err := reg.GetType(field.LinkTypeKID)
	require.NoError(t, err)
	assert.Equal(t, "app.PigeonPigeon", link.QualifiedName())

	// Self association derives plain and suffixed field names.
	selfField := link.FieldByKID(field.SelfFieldKID)
	foreignField := link.FieldByKID(field.ForeignFieldKID)
	require.NotNil(t, selfField)
	require.NotNil(t, foreignField)
	assert.Equal(t, "pigeon", selfField.APIName)
	assert.Equal(t, "pigeon1", foreignField.APIName)

	// A second pigeon-to-pigeon association gets a suffixed linking type.
	field2, err := r.CreateAssociationField(pigeon.KID, "rivals", pigeon.KID)
	require.NoError(t, err)
	link2, err := reg.GetType(field2.LinkTypeKID)
	require.NoError(t, err)
	assert.Equal(t, "app.PigeonPigeon1", link2.QualifiedName())
}

func TestAssociateIsIdempotent(t *testing.T) {
	r, reg := newTestResolver(t)
	pigeon, err := reg.CreateType(meta.TypeSpec{Package: "app", APIName: "Pigeon"})
	require.NoError(t, err)
	field, err := r.CreateAssociationField(pigeon.KID, "friends", pigeon.KID)
	require.NoError(t, err)

	a := kid.MustNew(pigeon.Prefix, 1)
	b := kid.MustNew(pigeon.Prefix, 2)
	insertRow(t, reg, "rt_pig", "kid", a.String())
	insertRow(t, reg, "rt_pig", "kid", b.String())

	ctx := context.Background()
	require.NoError(t, r.Associate(ctx, field.KID, a, b))
	require.NoError(t, r.Associate(ctx, field.KID, a, b))

	kids, err := r.AssociatedKIDs(ctx, field.KID, a)
	require.NoError(t, err)
	assert.Equal(t, []kid.KID{b}, kids, "re-associating must not duplicate")
}

func TestUnassociateYieldsEmptyNotNil(t *testing.T) {
	r, reg := newTestResolver(t)
	pigeon, err := reg.CreateType(meta.TypeSpec{Package: "app", APIName: "Pigeon"})
	require.NoError(t, err)
	field, err := r.CreateAssociationField(pigeon.KID, "friends", pigeon.KID)
	require.NoError(t, err)

	a := kid.MustNew(pigeon.Prefix, 1)
	b := kid.MustNew(pigeon.Prefix, 2)
	insertRow(t, reg, "rt_pig", "kid", a.String())
	insertRow(t, reg, "rt_pig", "kid", b.String())

	ctx := context.Background()
	require.NoError(t, r.Associate(ctx, field.KID, a, b))
	require.NoError(t, r.Unassociate(ctx, field.KID, a, b))

	kids, err := r.AssociatedKIDs(ctx, field.KID, a)
	require.NoError(t, err)
	assert.NotNil(t, kids)
	assert.Empty(t, kids)
}

func TestAssociateRejectsNonAssociationField(t *testing.T) {
	r, reg := newTestResolver(t)
	pigeon, err := reg.CreateType(meta.TypeSpec{
		Package: "app", APIName: "Pigeon",
		Fields:  []meta.FieldSpec{{APIName: "name", Kind: meta.DataTypeText, Length: 40}},
	})
	require.NoError(t, err)

	err = r.Associate(context.Background(), pigeon.Field("name").KID, kid.MustNew("pig", 1), kid.MustNew("pig", 2))
	assert.True(t, errdef.IsSyntaxErr(err))
}

func TestDeleteAssociationFieldCascadesLinkingType(t *testing.T) {
	r, reg := newTestResolver(t)
	pigeon, err := reg.CreateType(meta.TypeSpec{Package: "app", APIName: "Pigeon"})
	require.NoError(t, err)
	field, err := r.CreateAssociationField(pigeon.KID, "friends", pigeon.KID)
	require.NoError(t, err)
	linkKID := field.LinkTypeKID

	require.NoError(t, reg.DeleteField(pigeon.KID, field.KID))

	_, err = reg.GetType(linkKID)
	assert.True(t, errdef.IsNotFoundErr(err), "auto-generated linking type must be cascade-deleted")
}

func TestHydrateAssociation(t *testing.T) {
	r, reg := newTestResolver(t)
	company, err := reg.CreateType(meta.TypeSpec{Package: "app", APIName: "Company"})
	require.NoError(t, err)
	employee, err := reg.CreateType(meta.TypeSpec{
		Package: "app", APIName: "Employee",
		Fields:  []meta.FieldSpec{{APIName: "firstName", Kind: meta.DataTypeText, Length: 40}},
	})
	require.NoError(t, err)
	field, err := r.CreateAssociationField(company.KID, "employees", employee.KID)
	require.NoError(t, err)

	ctx := context.Background()
	companies := make([]kid.KID, 4)
	employees := make([]kid.KID, 4)
	for i := 0; i < 4; i++ {
		companies[i] = kid.MustNew(company.Prefix, uint64(i+1))
		employees[i] = kid.MustNew(employee.Prefix, uint64(i+1))
		insertRow(t, reg, "rt_"+company.Prefix, "kid", companies[i].String())
		insertRow(t, reg, "rt_"+employee.Prefix, "kid, first_name", employees[i].String(), fmt.Sprintf("emp%d", i+1))
	}
	// Company 1 employs 1 and 2, company 2 employs 3 and 4, 3 and 4 are
	// empty.
	require.NoError(t, r.Associate(ctx, field.KID, companies[0], employees[0]))
	require.NoError(t, r.Associate(ctx, field.KID, companies[0], employees[1]))
	require.NoError(t, r.Associate(ctx, field.KID, companies[1], employees[2]))
	require.NoError(t, r.Associate(ctx, field.KID, companies[1], employees[3]))

	company, err = reg.GetType(company.KID)
	require.NoError(t, err)
	employee, err = reg.GetType(employee.KID)
	require.NoError(t, err)
	parents := make([]*record.Record, 4)
	for i, k := range companies {
		parents[i] = record.New(company)
		parents[i].SetID(k)
	}

	plan := Plan{
		Field:      company.Field("employees"),
		Projection: []*meta.Field{employee.Field("firstName")},
	}
	require.NoError(t, r.Hydrate(ctx, parents, plan))

	first, err := parents[0].Children("employees")
	require.NoError(t, err)
	require.Len(t, first, 2)
	name, _ := first[0].Get("firstName")
	assert.Equal(t, "emp1", name)
	name, _ = first[1].Get("firstName")
	assert.Equal(t, "emp2", name)

	second, err := parents[1].Children("employees")
	require.NoError(t, err)
	assert.Len(t, second, 2)

	// Companies without links get an empty, non-nil list.
	for _, p := range parents[2:] {
		children, err := p.Children("employees")
		require.NoError(t, err)
		assert.NotNil(t, children)
		assert.Empty(t, children)
	}
}

func TestHydrateCollection(t *testing.T) {
	r, reg := newTestResolver(t)
	pigeon, err := reg.CreateType(meta.TypeSpec{
		Package: "app", APIName: "Pigeon",
		Fields:  []meta.FieldSpec{{APIName: "name", Kind: meta.DataTypeText, Length: 40}},
	})
	require.NoError(t, err)
	father, err := reg.CreateField(pigeon.KID, meta.FieldSpec{
		APIName: "father", Kind: meta.DataTypeReference, RefTypeKID: pigeon.KID,
	})
	require.NoError(t, err)
	_, err = reg.CreateField(pigeon.KID, meta.FieldSpec{
		APIName: "children", Kind: meta.DataTypeCollection,
		RefTypeKID: pigeon.KID, TargetFieldKID: father.KID,
	})
	require.NoError(t, err)

	dad := kid.MustNew(pigeon.Prefix, 1)
	kid1 := kid.MustNew(pigeon.Prefix, 2)
	kid2 := kid.MustNew(pigeon.Prefix, 3)
	insertRow(t, reg, "rt_pig", "kid, name", dad.String(), "Walter")
	insertRow(t, reg, "rt_pig", "kid, name, father", kid1.String(), "Pidge", dad.String())
	insertRow(t, reg, "rt_pig", "kid, name, father", kid2.String(), "Widge", dad.String())

	pigeon, err = reg.GetType(pigeon.KID)
	require.NoError(t, err)
	parent := record.New(pigeon)
	parent.SetID(dad)

	plan := Plan{
		Field:      pigeon.Field("children"),
		Projection: []*meta.Field{pigeon.Field("name")},
	}
	require.NoError(t, r.Hydrate(context.Background(), []*record.Record{parent}, plan))

	children, err := parent.Children("children")
	require.NoError(t, err)
	require.Len(t, children, 2)
	name, _ := children[0].Get("name")
	assert.Equal(t, "Pidge", name)
	assert.Equal(t, kid1, children[0].ID())
}

func TestColumnValuesTolerateByteSlices(t *testing.T) {
	// The mysql driver returns text columns as []byte where sqlite and
	// postgres return string; grouping and projection must not care.
	assert.Equal(t, "cmpaaaaaaaaaaaab", columnText([]byte("cmpaaaaaaaaaaaab")))
	assert.Equal(t, "cmpaaaaaaaaaaaab", columnText("cmpaaaaaaaaaaaab"))
	assert.Equal(t, "", columnText(nil))

	text := &meta.Field{APIName: "firstName", Kind: meta.DataTypeText}
	assert.Equal(t, "Ada", columnValue(text, []byte("Ada")))
	assert.Equal(t, "Ada", columnValue(text, "Ada"))
	assert.Nil(t, columnValue(text, nil))

	flag := &meta.Field{APIName: "active", Kind: meta.DataTypeBoolean}
	assert.Equal(t, true, columnValue(flag, int64(1)))
	assert.Equal(t, false, columnValue(flag, int64(0)))
	assert.Equal(t, true, columnValue(flag, true))

	num := &meta.Field{APIName: "age", Kind: meta.DataTypeNumber}
	assert.Equal(t, float64(36), columnValue(num, float64(36)))
}
