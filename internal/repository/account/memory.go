package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain"
)

type memoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Account
}

// NewMemory returns a process-local Repository for the memory store backend and tests.
func NewMemory() Repository {
	return &memoryRepo{byID: make(map[string]Account)}
}

func (r *memoryRepo) Create(_ context.Context, a Account) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Email = strings.ToLower(a.Email)
	for _, existing := range r.byID {
		if existing.Email == a.Email {
			return nil, domain.ErrAlreadyExists
		}
	}
	if _, ok := r.byID[a.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	a.CreatedAt = time.Now().UTC()
	r.byID[a.ID] = a
	return &a, nil
}

func (r *memoryRepo) GetByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, a := range r.byID {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *memoryRepo) MarkVerified(_ context.Context, id string) error {
	return r.modify(id, func(a *Account) { a.EmailVerified = true })
}

func (r *memoryRepo) SetPasswordHash(_ context.Context, id, hash string) error {
	return r.modify(id, func(a *Account) { a.PasswordHash = hash })
}

func (r *memoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *memoryRepo) modify(id string, fn func(a *Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&a)
	r.byID[id] = a
	return nil
}
