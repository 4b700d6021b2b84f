package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

func nowUTC() time.Time { return time.Now().UTC() }

// InMemoryDirectory implements AccountDirectory with in-process
// concurrency safety. Used by tests and single-node dev mode.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	byID  map[string]*Account
	email map[string]string // email -> id
}

// NewInMemoryDirectory creates an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		byID:  make(map[string]*Account),
		email: make(map[string]string),
	}
}

var _ AccountDirectory = (*InMemoryDirectory)(nil)

func (d *InMemoryDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.email[strings.ToLower(email)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyAccount(d.byID[id]), nil
}

func (d *InMemoryDirectory) FindByID(ctx context.Context, id string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyAccount(acc), nil
}

func (d *InMemoryDirectory) List(ctx context.Context) ([]Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Account, 0, len(d.byID))
	for _, acc := range d.byID {
		out = append(out, *copyAccount(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (d *InMemoryDirectory) Save(ctx context.Context, acc *Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := copyAccount(acc)
	if prev, ok := d.byID[acc.ID]; ok && prev.Email != stored.Email {
		delete(d.email, strings.ToLower(prev.Email))
	}
	d.byID[acc.ID] = stored
	d.email[strings.ToLower(stored.Email)] = acc.ID
	return nil
}

func copyAccount(acc *Account) *Account {
	out := *acc
	out.Departments = append([]string(nil), acc.Departments...)
	return &out
}

// InMemoryTokenStore implements RefreshTokenStore in process memory.
type InMemoryTokenStore struct {
	mu   sync.Mutex
	recs map[string]*RefreshRecord
}

// NewInMemoryTokenStore creates an empty token store.
func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{recs: make(map[string]*RefreshRecord)}
}

var _ RefreshTokenStore = (*InMemoryTokenStore)(nil)

func (s *InMemoryTokenStore) Create(ctx context.Context, rec *RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.ID] = &cp
	return nil
}

func (s *InMemoryTokenStore) Find(ctx context.Context, id string) (*RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrTokenRevoked
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryTokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok || rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	rec.RevokedAt = nowUTC()
	return true, nil
}

func (s *InMemoryTokenStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowUTC()
	for _, rec := range s.recs {
		if rec.AccountID == accountID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = now
		}
	}
	return nil
}
