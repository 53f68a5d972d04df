package record

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

// newPigeonType builds a registry with a Pigeon type and returns the type.
func newPigeonType(t *testing.T) *meta.Type {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	r := meta.NewRegistry(db)
	require.NoError(t, r.Migrate())
	require.NoError(t, r.Load())

	chick, err := r.CreateType(meta.TypeSpec{Package: "app", APIName: "Chick"})
	require.NoError(t, err)
	pigeon, err := r.CreateType(meta.TypeSpec{
		Package: "app", APIName: "Pigeon",
		Fields: []meta.FieldSpec{
			{APIName: "name", Kind: meta.DataTypeText, Length: 80},
			{APIName: "age", Kind: meta.DataTypeNumber},
			{APIName: "ringed", Kind: meta.DataTypeBoolean},
		},
	})
	require.NoError(t, err)
	motherField, err := r.CreateField(chick.KID, meta.FieldSpec{
		APIName: "mother", Kind: meta.DataTypeReference, RefTypeKID: pigeon.KID,
	})
	require.NoError(t, err)
	_, err = r.CreateField(pigeon.KID, meta.FieldSpec{
		APIName: "children", Kind: meta.DataTypeCollection,
		RefTypeKID: chick.KID, TargetFieldKID: motherField.KID,
	})
	require.NoError(t, err)

	got, err := r.GetTypeByName("app.Pigeon")
	require.NoError(t, err)
	return got
}

func TestTriState(t *testing.T) {
	pigeon := newPigeonType(t)
	r := New(pigeon)

	// Unset.
	assert.False(t, r.IsSet("name"))
	assert.False(t, r.IsNull("name"))
	v, err := r.Get("name")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Set with value.
	require.NoError(t, r.Set("name", "Walter"))
	assert.True(t, r.IsSet("name"))
	assert.False(t, r.IsNull("name"))
	v, err = r.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Walter", v)

	// Explicit null.
	require.NoError(t, r.Nullify("name"))
	assert.True(t, r.IsSet("name"))
	assert.True(t, r.IsNull("name"))
	v, err = r.Get("name")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Back to unset.
	r.Clear("name")
	assert.False(t, r.IsSet("name"))
}

func TestSetNilNullifies(t *testing.T) {
	r := New(newPigeonType(t))
	require.NoError(t, r.Set("age", nil))
	assert.True(t, r.IsSet("age"))
	assert.True(t, r.IsNull("age"))
}

func TestUnknownFieldFails(t *testing.T) {
	r := New(newPigeonType(t))

	err := r.Set("wingspan", 30)
	assert.True(t, errdef.IsNotFoundErr(err))
	_, err = r.Get("wingspan")
	assert.True(t, errdef.IsNotFoundErr(err))

	// AttemptGet never fails.
	v, ok := r.AttemptGet("wingspan")
	assert.Nil(t, v)
	assert.False(t, ok)
}

func TestAttemptGet(t *testing.T) {
	r := New(newPigeonType(t))

	_, ok := r.AttemptGet("name")
	assert.False(t, ok, "unset")

	require.NoError(t, r.Set("name", "Walter"))
	v, ok := r.AttemptGet("name")
	assert.True(t, ok)
	assert.Equal(t, "Walter", v)

	require.NoError(t, r.Nullify("name"))
	_, ok = r.AttemptGet("name")
	assert.False(t, ok, "null reads as not-ok")
}

func TestChildrenNeverNil(t *testing.T) {
	r := New(newPigeonType(t))

	children, err := r.Children("children")
	require.NoError(t, err)
	assert.NotNil(t, children)
	assert.Empty(t, children)

	// A scalar field is not a collection.
	_, err = r.Children("name")
	assert.True(t, errdef.IsSyntaxErr(err))
}

func TestSetFieldsOrder(t *testing.T) {
	r := New(newPigeonType(t))
	require.NoError(t, r.Set("ringed", true))
	require.NoError(t, r.Set("name", "Walter"))
	// Declaration order, not touch order.
	assert.Equal(t, []string{"name", "ringed"}, r.SetFields())
}

// pigeonProxy is a typed view over app.Pigeon used by the proxy tests.
type pigeonProxy struct {
	ID   string
	Name string
	Age  float64

	nameState State
	ageState  State
}

func newPigeonProxyRegistry() *ProxyRegistry {
	pr := NewProxyRegistry()
	pr.Register("app.Pigeon",
		func() any { return &pigeonProxy{} },
		func(p any) string { return p.(*pigeonProxy).ID },
		func(p any, id string) { p.(*pigeonProxy).ID = id },
		map[string]Accessor{
			"name": {
				Get: func(p any) (any, State) {
					px := p.(*pigeonProxy)
					if px.nameState != Value {
						return nil, px.nameState
					}
					return px.Name, Value
				},
				Set: func(p any, v any, s State) {
					px := p.(*pigeonProxy)
					px.nameState = s
					if s == Value {
						px.Name = v.(string)
					}
				},
			},
			"age": {
				Get: func(p any) (any, State) {
					px := p.(*pigeonProxy)
					if px.ageState != Value {
						return nil, px.ageState
					}
					return px.Age, Value
				},
				Set: func(p any, v any, s State) {
					px := p.(*pigeonProxy)
					px.ageState = s
					if s == Value {
						px.Age = v.(float64)
					}
				},
			},
		})
	return pr
}

func TestProxyRoundTripPreservesTriState(t *testing.T) {
	pigeon := newPigeonType(t)
	pr := newPigeonProxyRegistry()

	src := New(pigeon)
	src.SetID(kid.MustNew("pig", 7))
	require.NoError(t, src.Set("name", "Walter"))
	require.NoError(t, src.Nullify("age"))
	// "ringed" stays unset (and is unbound anyway).

	proxy, err := pr.GenerateProxy(src)
	require.NoError(t, err)
	px := proxy.(*pigeonProxy)
	assert.Equal(t, "Walter", px.Name)
	assert.Equal(t, Null, px.ageState)

	back, err := pr.GenerateRecord(pigeon, proxy)
	require.NoError(t, err)

	assert.Equal(t, src.ID(), back.ID())
	assert.True(t, back.IsSet("name"))
	assert.False(t, back.IsNull("name"))
	got, _ := back.Get("name")
	assert.Equal(t, "Walter", got)

	assert.True(t, back.IsSet("age"), "null state must survive the round trip")
	assert.True(t, back.IsNull("age"))

	assert.False(t, back.IsSet("ringed"), "unset state must survive the round trip")
}

func TestGenerateProxyUnregisteredType(t *testing.T) {
	pigeon := newPigeonType(t)
	pr := NewProxyRegistry()
	_, err := pr.GenerateProxy(New(pigeon))
	assert.True(t, errdef.IsNotFoundErr(err))
}
