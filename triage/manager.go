// Package triage ties the rule engine and the action executor together:
// per-user engine management, boundary validation of rule definitions, and
// the recommendation service that external callers invoke once per email.
package triage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/quillmail/triage/rules"
)

// userEngine pairs one user's immutable engine with the store and cache it
// was built from.
type userEngine struct {
	userID string
	engine *rules.Engine
	store  rules.RuleStore
	cache  rules.RulesCache
}

// Manager maintains one rule engine per user. Engines are immutable; a rule
// change rebuilds the user's engine and swaps it in atomically, so readers
// never observe a partially updated rule set.
type Manager struct {
	db       *sql.DB
	storeFor func(userID string) rules.RuleStore
	cacheFor func(userID string) rules.RulesCache
	log      *slog.Logger

	engines map[string]*userEngine
	mu      sync.RWMutex
}

// NewManager creates a manager with PostgreSQL-backed rule stores and
// in-memory rule caches.
func NewManager(db *sql.DB) *Manager {
	return newManager(db,
		func(userID string) rules.RuleStore { return rules.NewPostgresRuleStore(db, userID) },
		func(string) rules.RulesCache { return rules.NewInMemoryRulesCache(rules.DefaultCacheConfig()) },
	)
}

// NewManagerWithRedis is NewManager with rule caches shared through Redis,
// for multi-instance deployments.
func NewManagerWithRedis(db *sql.DB, client *redis.Client, cacheConfig rules.CacheConfig) *Manager {
	return newManager(db,
		func(userID string) rules.RuleStore { return rules.NewPostgresRuleStore(db, userID) },
		func(userID string) rules.RulesCache { return rules.NewRedisRulesCache(client, userID, cacheConfig) },
	)
}

// NewManagerWithStores creates a manager over arbitrary store and cache
// factories. Used by tests and single-process deployments without Postgres.
func NewManagerWithStores(storeFor func(string) rules.RuleStore, cacheFor func(string) rules.RulesCache) *Manager {
	return newManager(nil, storeFor, cacheFor)
}

func newManager(db *sql.DB, storeFor func(string) rules.RuleStore, cacheFor func(string) rules.RulesCache) *Manager {
	return &Manager{
		db:       db,
		storeFor: storeFor,
		cacheFor: cacheFor,
		log:      slog.Default(),
		engines:  make(map[string]*userEngine),
	}
}

// SetLogger replaces the manager's logger. Call before serving traffic.
func (m *Manager) SetLogger(log *slog.Logger) {
	if log != nil {
		m.log = log
	}
}

// LoadAllUsers builds engines for every user who has stored rules. Users
// without rules still get an engine (with the default rule set) lazily on
// first EngineFor call.
func (m *Manager) LoadAllUsers() error {
	if m.db == nil {
		return nil
	}

	rows, err := m.db.Query(`SELECT DISTINCT user_id FROM rules`)
	if err != nil {
		return fmt.Errorf("failed to fetch rule owners: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("failed to scan user row: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating user rows: %w", err)
	}

	for _, userID := range userIDs {
		if _, err := m.EngineFor(userID); err != nil {
			return fmt.Errorf("failed to load user %s: %w", userID, err)
		}
	}

	m.log.Info("engines loaded", "users", len(userIDs))
	return nil
}

// EngineFor returns the engine for a user, building it on first use. A user
// with no stored rules gets the built-in default rule set.
func (m *Manager) EngineFor(userID string) (*rules.Engine, error) {
	m.mu.RLock()
	ue, ok := m.engines[userID]
	m.mu.RUnlock()
	if ok {
		return ue.engine, nil
	}

	built, err := m.buildUserEngine(userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have built it while we were loading; keep the
	// winner so concurrent callers agree on one engine instance.
	if existing, ok := m.engines[userID]; ok {
		return existing.engine, nil
	}
	m.engines[userID] = built
	return built.engine, nil
}

// ReloadUser rebuilds a user's engine from the store after a rule change and
// atomically swaps it in. The cache is invalidated first so the rebuild
// reads fresh definitions.
func (m *Manager) ReloadUser(userID string) error {
	m.mu.RLock()
	ue, ok := m.engines[userID]
	m.mu.RUnlock()

	// Invalidate even when no engine is loaded yet: a shared cache can hold
	// an entry written before this process started or by another instance.
	cache := m.cacheFor(userID)
	if ok {
		cache = ue.cache
	}
	cache.Invalidate()

	built, err := m.buildUserEngine(userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[userID] = built
	m.mu.Unlock()

	m.log.Info("engine reloaded", "user", userID)
	return nil
}

// RuleStoreFor returns the rule store scoped to a user, for the rule CRUD
// surface. Mutating callers must follow up with ReloadUser.
func (m *Manager) RuleStoreFor(userID string) rules.RuleStore {
	m.mu.RLock()
	ue, ok := m.engines[userID]
	m.mu.RUnlock()
	if ok {
		return ue.store
	}
	return m.storeFor(userID)
}

// ListUsers returns the IDs of all users with a loaded engine, sorted.
func (m *Manager) ListUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userIDs := make([]string, 0, len(m.engines))
	for userID := range m.engines {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	return userIDs
}

// buildUserEngine loads a user's active rules (cache first, then store) and
// compiles a fresh engine from them.
func (m *Manager) buildUserEngine(userID string) (*userEngine, error) {
	store := m.storeFor(userID)
	cache := m.cacheFor(userID)

	stored := cache.Get()
	if stored == nil {
		var err error
		stored, err = store.ListActive()
		if err != nil {
			return nil, fmt.Errorf("failed to load rules for user %s: %w", userID, err)
		}
		if stored == nil {
			// An empty rule set is a cacheable answer, not a miss.
			stored = []*rules.StoredRule{}
		}
		cache.Set(stored)
	}

	defs := make([]rules.Rule, 0, len(stored))
	for _, sr := range stored {
		defs = append(defs, sr.Definition)
	}

	// An empty defs slice makes NewEngine fall back to the defaults.
	engine := rules.NewEngineWithLogger(defs, m.log)

	return &userEngine{
		userID: userID,
		engine: engine,
		store:  store,
		cache:  cache,
	}, nil
}
