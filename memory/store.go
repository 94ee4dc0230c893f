// Package memory is an in-process document store implementing every
// repository of the domain package. A transaction holds the store exclusively
// until it returns; on failure an undo log restores exactly the documents it
// touched. Operations outside the transaction wait for it, so they never see
// uncommitted writes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.pilab.hu/linksync/domain"
)

// Store holds every collection in maps guarded by mu. gate is held for
// writing by an open transaction and for reading by every other operation.
type Store struct {
	gate     sync.RWMutex
	mu       sync.RWMutex
	agencies map[string]*domain.Agency
	links    map[string]*domain.ConnectionLink
	results  map[string]*domain.ConnectionResult
	users    map[string]*domain.User
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		agencies: make(map[string]*domain.Agency),
		links:    make(map[string]*domain.ConnectionLink),
		results:  make(map[string]*domain.ConnectionResult),
		users:    make(map[string]*domain.User),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type txKey struct{}

// txState is the undo log of one transaction: the pre-transaction version of
// every document it touched, nil for documents it created.
type txState struct {
	store    *Store
	agencies map[string]*domain.Agency
	links    map[string]*domain.ConnectionLink
	results  map[string]*domain.ConnectionResult
}

func (s *Store) txFrom(ctx context.Context) *txState {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(*txState)
	if tx == nil || tx.store != s {
		return nil
	}
	return tx
}

// enter waits for any open transaction unless ctx belongs to it. The
// returned func releases the gate.
func (s *Store) enter(ctx context.Context) func() {
	if s.txFrom(ctx) != nil {
		return func() {}
	}
	s.gate.RLock()
	return s.gate.RUnlock
}

// WithTransaction implements domain.Transactor. Nested calls join the outer
// transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.gate.Lock()
	defer s.gate.Unlock()

	tx := &txState{
		store:    s,
		agencies: make(map[string]*domain.Agency),
		links:    make(map[string]*domain.ConnectionLink),
		results:  make(map[string]*domain.ConnectionResult),
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		s.rollback(tx)
		return err
	}
	return nil
}

func (s *Store) rollback(tx *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	undo(s.agencies, tx.agencies)
	undo(s.links, tx.links)
	undo(s.results, tx.results)
}

func undo[T any](docs, prior map[string]*T) {
	for id, prev := range prior {
		if prev == nil {
			delete(docs, id)
		} else {
			docs[id] = prev
		}
	}
}

// The touch helpers record a document before its first write inside a
// transaction. Callers hold s.mu.

func (s *Store) touchAgency(ctx context.Context, id string) {
	if tx := s.txFrom(ctx); tx != nil {
		if _, seen := tx.agencies[id]; !seen {
			tx.agencies[id] = s.agencies[id].Clone()
		}
	}
}

func (s *Store) touchLink(ctx context.Context, id string) {
	if tx := s.txFrom(ctx); tx != nil {
		if _, seen := tx.links[id]; !seen {
			tx.links[id] = s.links[id].Clone()
		}
	}
}

func (s *Store) touchResult(ctx context.Context, id string) {
	if tx := s.txFrom(ctx); tx != nil {
		if _, seen := tx.results[id]; !seen {
			tx.results[id] = s.results[id].Clone()
		}
	}
}

// PutUser stores or replaces a user; the identity layer owns users, so this
// is how the memory backend gets seeded.
func (s *Store) PutUser(user *domain.User) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *user
	if c.Google != nil {
		g := *c.Google
		c.Google = &g
	}
	if c.Facebook != nil {
		f := *c.Facebook
		c.Facebook = &f
	}
	s.users[c.ID] = &c
}

// FindUser implements domain.UserDirectory.
func (s *Store) FindUser(ctx context.Context, id string) (*domain.User, error) {
	defer s.enter(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.NotFoundf("user %s", id)
	}
	c := *u
	return &c, nil
}

func newID() string {
	return uuid.NewString()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sortByCreated[T any](items []T, created func(T) time.Time, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if ci.Equal(cj) {
			return id(items[i]) < id(items[j])
		}
		return ci.Before(cj)
	})
}

var (
	_ domain.Transactor                 = (*Store)(nil)
	_ domain.UserDirectory              = (*Store)(nil)
	_ domain.AgencyRepository           = (*Store)(nil)
	_ domain.ConnectionLinkRepository   = (*Store)(nil)
	_ domain.ConnectionResultRepository = (*Store)(nil)
)
