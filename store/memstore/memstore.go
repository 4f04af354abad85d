// Package memstore keeps identities, credentials and confirmation keys in
// process memory. It backs tests and single-process demos; nothing survives a
// restart.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/securestorage/authcore"
)

// Store implements authcore.UserDirectory, authcore.CredentialStore and
// authcore.ConfirmationStore. Records are copied on the way in and out.
type Store struct {
	mu sync.RWMutex

	nextID        int64
	users         map[string]*authcore.Identity
	emails        map[string]string
	credentials   map[string]authcore.Credential
	confirmations map[string]authcore.Confirmation
	userKeys      map[string]string
}

func New() *Store {
	return &Store{
		users:         make(map[string]*authcore.Identity),
		emails:        make(map[string]string),
		credentials:   make(map[string]authcore.Credential),
		confirmations: make(map[string]authcore.Confirmation),
		userKeys:      make(map[string]string),
	}
}

// Users is the directory view of the store.
func (s *Store) Users() authcore.UserDirectory { return userView{s} }

// Credentials is the credential view of the store.
func (s *Store) Credentials() authcore.CredentialStore { return credentialView{s} }

func (s *Store) Confirmations() authcore.ConfirmationStore { return s }

func copyIdentity(i *authcore.Identity) *authcore.Identity {
	out := *i
	if i.Authorities != nil {
		out.Authorities = append([]string(nil), i.Authorities...)
	}
	return &out
}

type userView struct{ s *Store }

func (v userView) FindByEmail(_ context.Context, email string) (*authcore.Identity, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	id, ok := v.s.emails[strings.ToLower(email)]
	if !ok {
		return nil, authcore.ErrIdentityNotFound
	}
	return copyIdentity(v.s.users[id]), nil
}

func (v userView) FindByUserID(_ context.Context, userID string) (*authcore.Identity, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	i, ok := v.s.users[userID]
	if !ok {
		return nil, authcore.ErrIdentityNotFound
	}
	return copyIdentity(i), nil
}

// Save inserts or replaces by UserID. A different user holding the same email
// fails with authcore.ErrAccountExists.
func (v userView) Save(_ context.Context, identity *authcore.Identity) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.saveLocked(identity)
}

// Update applies mutate under the store lock.
func (v userView) Update(_ context.Context, userID string, mutate func(*authcore.Identity)) (*authcore.Identity, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	i, ok := v.s.users[userID]
	if !ok {
		return nil, authcore.ErrIdentityNotFound
	}
	out := copyIdentity(i)
	mutate(out)
	out.UserID = userID
	if err := v.saveLocked(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v userView) saveLocked(identity *authcore.Identity) error {
	email := strings.ToLower(identity.Email)
	if owner, ok := v.s.emails[email]; ok && owner != identity.UserID {
		return authcore.ErrAccountExists
	}
	if prev, ok := v.s.users[identity.UserID]; ok {
		if prevEmail := strings.ToLower(prev.Email); prevEmail != email {
			delete(v.s.emails, prevEmail)
		}
		identity.ID = prev.ID
	} else {
		v.s.nextID++
		identity.ID = v.s.nextID
	}
	v.s.users[identity.UserID] = copyIdentity(identity)
	v.s.emails[email] = identity.UserID
	return nil
}

type credentialView struct{ s *Store }

func (v credentialView) FindByUserID(_ context.Context, userID string) (*authcore.Credential, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	c, ok := v.s.credentials[userID]
	if !ok {
		return nil, authcore.ErrCredentialNotFound
	}
	return &c, nil
}

func (v credentialView) Save(_ context.Context, c *authcore.Credential) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	v.s.credentials[c.UserID] = *c
	return nil
}

// Save stores c and drops any earlier key for the same user.
func (s *Store) Save(_ context.Context, c *authcore.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.userKeys[c.UserID]; ok {
		delete(s.confirmations, old)
	}
	s.confirmations[c.Key] = *c
	s.userKeys[c.UserID] = c.Key
	return nil
}

func (s *Store) FindByKey(_ context.Context, key string) (*authcore.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.confirmations[key]
	if !ok {
		return nil, authcore.ErrConfirmationNotFound
	}
	return &c, nil
}

func (s *Store) FindByUserID(_ context.Context, userID string) (*authcore.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.userKeys[userID]
	if !ok {
		return nil, authcore.ErrConfirmationNotFound
	}
	c := s.confirmations[key]
	return &c, nil
}

// Delete is idempotent.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.confirmations[key]
	if !ok {
		return nil
	}
	delete(s.confirmations, key)
	if s.userKeys[c.UserID] == key {
		delete(s.userKeys, c.UserID)
	}
	return nil
}
