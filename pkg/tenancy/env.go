package tenancy

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/assoc"
	"github.com/kitebase/kitebase/pkg/dal"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/persist"
	"github.com/kitebase/kitebase/pkg/sharing"
)

// Env is one tenant's fully wired service stack over its own database.
type Env struct {
	Namespace string
	DB        *gorm.DB
	Registry  *meta.Registry
	Assoc     *assoc.Resolver
	Sharing   *sharing.Engine
	Persist   *persist.Service
	Queries   *dal.Compiler
}

// Opener opens (or creates) the database backing a namespace.
type Opener func(namespace string) (*gorm.DB, error)

// EnvManager builds tenant environments lazily and caches them by
// namespace. All services of an Env share one database handle, so tenants
// are isolated at the storage level.
type EnvManager struct {
	open Opener

	mu   sync.Mutex
	envs map[string]*Env
}

// NewEnvManager creates a manager that opens tenant databases with open.
func NewEnvManager(open Opener) *EnvManager {
	return &EnvManager{
		open: open,
		envs: map[string]*Env{},
	}
}

// Env returns the environment for a namespace, building and migrating it on
// first use.
func (m *EnvManager) Env(namespace string) (*Env, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if env, ok := m.envs[namespace]; ok {
		return env, nil
	}
	env, err := m.build(namespace)
	if err != nil {
		return nil, err
	}
	m.envs[namespace] = env
	return env, nil
}

// ResetEnv drops the cached environment and rebuilds it from the persisted
// metadata, discarding every in-memory catalog and compiled query.
func (m *EnvManager) ResetEnv(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.envs[namespace]; !ok {
		return nil
	}
	env, err := m.build(namespace)
	if err != nil {
		return err
	}
	m.envs[namespace] = env
	return nil
}

// Namespaces lists the namespaces with a live environment.
func (m *EnvManager) Namespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.envs))
	for ns := range m.envs {
		out = append(out, ns)
	}
	return out
}

func (m *EnvManager) build(namespace string) (*Env, error) {
	db, err := m.open(namespace)
	if err != nil {
		return nil, fmt.Errorf("opening database for namespace %q: %w", namespace, err)
	}
	reg := meta.NewRegistry(db)
	if err := reg.Migrate(); err != nil {
		return nil, err
	}
	if err := reg.Load(); err != nil {
		return nil, err
	}
	sec := sharing.NewEngine(db)
	if err := sec.AutoMigrate(); err != nil {
		return nil, err
	}
	res := assoc.NewResolver(reg)
	svc := persist.NewService(reg, res, sec)
	if err := svc.Migrate(); err != nil {
		return nil, err
	}
	return &Env{
		Namespace: namespace,
		DB:        db,
		Registry:  reg,
		Assoc:     res,
		Sharing:   sec,
		Persist:   svc,
		Queries:   dal.NewCompiler(reg, res, sec),
	}, nil
}
