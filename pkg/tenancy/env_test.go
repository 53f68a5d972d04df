package tenancy

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kitebase/kitebase/pkg/meta"
)

// memoryOpener keeps one in-memory database per namespace so rebuilding an
// environment reattaches to the same data.
func memoryOpener() Opener {
	dbs := map[string]*gorm.DB{}
	return func(namespace string) (*gorm.DB, error) {
		if db, ok := dbs[namespace]; ok {
			return db, nil
		}
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		dbs[namespace] = db
		return db, nil
	}
}

func TestEnvManagerIsolatesNamespaces(t *testing.T) {
	m := NewEnvManager(memoryOpener())

	teamA, err := m.Env("team-a")
	require.NoError(t, err)
	teamB, err := m.Env("team-b")
	require.NoError(t, err)

	_, err = teamA.Registry.CreateType(meta.TypeSpec{
		Package: "app", APIName: "Pet",
		Fields: []meta.FieldSpec{{APIName: "name", Kind: meta.DataTypeText}},
	})
	require.NoError(t, err)

	_, err = teamA.Registry.GetTypeByName("app.Pet")
	assert.NoError(t, err)
	_, err = teamB.Registry.GetTypeByName("app.Pet")
	assert.Error(t, err, "types must not leak across namespaces")
}

func TestEnvManagerCachesEnvironments(t *testing.T) {
	m := NewEnvManager(memoryOpener())

	first, err := m.Env("team-a")
	require.NoError(t, err)
	second, err := m.Env("team-a")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestResetEnvRebuildsFromPersistedMetadata(t *testing.T) {
	m := NewEnvManager(memoryOpener())

	env, err := m.Env("team-a")
	require.NoError(t, err)
	_, err = env.Registry.CreateType(meta.TypeSpec{
		Package: "app", APIName: "Pet",
		Fields: []meta.FieldSpec{{APIName: "name", Kind: meta.DataTypeText}},
	})
	require.NoError(t, err)

	require.NoError(t, m.ResetEnv("team-a"))
	rebuilt, err := m.Env("team-a")
	require.NoError(t, err)
	assert.NotSame(t, env, rebuilt)
	_, err = rebuilt.Registry.GetTypeByName("app.Pet")
	assert.NoError(t, err, "the rebuilt catalog must reflect the persisted schema")
}

func TestEnvRejectsInvalidNamespace(t *testing.T) {
	m := NewEnvManager(memoryOpener())
	_, err := m.Env("Not_Valid")
	assert.Error(t, err)
}
