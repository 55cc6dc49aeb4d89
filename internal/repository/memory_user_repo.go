package repository

import (
	"context"
	"strings"
	"sync"

	"codepods/internal/model"
)

// MemoryUserRepository keeps users in process memory. It backs the server
// when no DATABASE_URL is configured.
type MemoryUserRepository struct {
	mu   sync.RWMutex
	byID map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: map[string]model.User{}}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.findEmailLocked(email); ok {
		return u, nil
	}
	return model.User{}, model.ErrUserNotFound
}

func (r *MemoryUserRepository) FindByGitHubID(_ context.Context, githubID int64) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.GitHubID != nil && *u.GitHubID == githubID {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[u.ID]; exists {
		return model.ErrUserAlreadyExists
	}
	if _, exists := r.findEmailLocked(u.Email); exists {
		return model.ErrUserAlreadyExists
	}
	if u.GitHubID != nil && r.githubTakenLocked(*u.GitHubID, u.ID) {
		return model.ErrUserAlreadyExists
	}

	r.byID[u.ID] = u
	return nil
}

func (r *MemoryUserRepository) UpdateGitHub(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[u.ID]
	if !ok {
		return model.ErrUserNotFound
	}
	if u.GitHubID != nil && r.githubTakenLocked(*u.GitHubID, u.ID) {
		return model.ErrUserAlreadyExists
	}

	existing.GitHubID = u.GitHubID
	existing.GitHubLogin = u.GitHubLogin
	existing.AvatarURL = u.AvatarURL
	existing.UpdatedAt = u.UpdatedAt
	r.byID[u.ID] = existing
	return nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), nil
}

func (r *MemoryUserRepository) findEmailLocked(email string) (model.User, bool) {
	key := strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.byID {
		if strings.ToLower(u.Email) == key {
			return u, true
		}
	}
	return model.User{}, false
}

func (r *MemoryUserRepository) githubTakenLocked(githubID int64, ownerID string) bool {
	for id, u := range r.byID {
		if id != ownerID && u.GitHubID != nil && *u.GitHubID == githubID {
			return true
		}
	}
	return false
}
