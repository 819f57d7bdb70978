// Package service holds the registration, approval and login flows of a
// tenant and the public menu, on top of the JSON document store.
package service

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/models"
	"github.com/atinyakov/qrmenu/internal/passhash"
	"github.com/atinyakov/qrmenu/internal/repository"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._@-]{1,64}$`)

// NormalizeUsername trims and lowercases a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validUsername(u string) bool {
	return usernamePattern.MatchString(u)
}

// UserList is the admin view of a tenant's accounts.
type UserList struct {
	Allowed []string
	// Pending and WithPassword are sorted usernames; hashes never leave the service.
	Pending      []string
	WithPassword []string
}

// MigrationResult describes what Migrate moved out of a legacy users.json.
type MigrationResult struct {
	Migrated  bool
	Passwords int
	Pending   int
}

// UserService implements the account lifecycle of a tenant:
// unregistered, pending, approved and removed again.
type UserService struct {
	docs *repository.Documents
	log  *zap.Logger
}

// NewUserService constructs a UserService storing its records through docs.
func NewUserService(docs *repository.Documents, log *zap.Logger) *UserService {
	return &UserService{docs: docs, log: log}
}

func newPasswords() models.Passwords { return models.Passwords{} }
func newPending() models.Pending     { return models.Pending{} }

func (s *UserService) readUsers(ctx context.Context, tenant string) (models.Users, error) {
	users, _, err := repository.ReadJSON(ctx, s.docs, models.UsersPath(tenant), models.NewUsers)
	if err != nil {
		return users, err
	}
	users.Normalize()
	return users, nil
}

// Register files a registration request for username. The password is
// stored as a bcrypt hash until an admin approves or rejects it.
func (s *UserService) Register(ctx context.Context, tenant, username, password string) (string, error) {
	u := NormalizeUsername(username)
	if !validUsername(u) || u == models.AdminUser || password == "" {
		return "", ErrInvalid
	}
	if err := passhash.Validate(password); err != nil {
		return "", ErrWeakPassword
	}

	users, err := s.readUsers(ctx, tenant)
	if err != nil {
		return "", err
	}
	if users.IsAllowed(u) {
		return "", ErrExists
	}

	hash, err := passhash.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.PendingPath(tenant), newPending,
		fmt.Sprintf("feat(api): register pending user %s for %s", u, tenant),
		func(p *models.Pending) (bool, error) {
			if *p == nil {
				*p = models.Pending{}
			}
			if _, ok := (*p)[u]; ok {
				return false, ErrPending
			}
			(*p)[u] = hash
			return true, nil
		})
	if err != nil {
		return "", err
	}

	s.log.Info("registration pending", zap.String("tenant", tenant), zap.String("username", u))
	return u, nil
}

// Approve moves username from pending to the allowed users. The password
// hash is written first, then users.json, then the pending entry is removed,
// so an interrupted approval leaves a user who can log in but still shows as
// pending. Calling Approve again finishes the remaining steps.
//
// Approving a user that is no longer pending but already allowed succeeds
// with changed == false.
func (s *UserService) Approve(ctx context.Context, tenant, username string) (string, bool, error) {
	u := NormalizeUsername(username)
	if !validUsername(u) {
		return "", false, ErrInvalid
	}

	pending, _, err := repository.ReadJSON(ctx, s.docs, models.PendingPath(tenant), newPending)
	if err != nil {
		return "", false, err
	}
	users, err := s.readUsers(ctx, tenant)
	if err != nil {
		return "", false, err
	}
	stored, ok := pending[u]
	if !ok {
		if users.IsAllowed(u) {
			return u, false, nil
		}
		return "", false, ErrNotPending
	}
	// An allowed user keeps the hash they already have.
	resuming := users.IsAllowed(u)

	hash, err := passhash.Ensure(stored)
	if err != nil {
		return "", false, fmt.Errorf("hash pending password: %w", err)
	}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords,
		fmt.Sprintf("feat(api): set password for %s (%s)", u, tenant),
		func(pw *models.Passwords) (bool, error) {
			if *pw == nil {
				*pw = models.Passwords{}
			}
			cur := (*pw)[u]
			if cur == hash || (resuming && passhash.IsHash(cur)) {
				return false, nil
			}
			(*pw)[u] = hash
			return true, nil
		})
	if err != nil {
		return "", false, &StepError{Step: StepPasswords, Err: err}
	}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.UsersPath(tenant), models.NewUsers,
		fmt.Sprintf("feat(api): approve %s for %s", u, tenant),
		func(users *models.Users) (bool, error) {
			before := slices.Clone(users.Allowed)
			users.Normalize()
			users.Allow(u)
			return !slices.Equal(before, users.Allowed), nil
		})
	if err != nil {
		return "", false, &StepError{Step: StepUsers, Err: err}
	}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.PendingPath(tenant), newPending,
		fmt.Sprintf("chore(api): clear pending %s for %s", u, tenant),
		func(p *models.Pending) (bool, error) {
			if _, ok := (*p)[u]; !ok {
				return false, nil
			}
			delete(*p, u)
			return true, nil
		})
	if err != nil {
		return "", false, &StepError{Step: StepPending, Err: err}
	}

	s.log.Info("user approved", zap.String("tenant", tenant), zap.String("username", u))
	return u, true, nil
}

// Reject drops a pending registration. A password entry left behind for a
// user who was never approved is purged as well.
func (s *UserService) Reject(ctx context.Context, tenant, username string) (string, bool, error) {
	u := NormalizeUsername(username)
	if !validUsername(u) {
		return "", false, ErrInvalid
	}

	_, changed, err := repository.UpdateJSON(ctx, s.docs, models.PendingPath(tenant), newPending,
		fmt.Sprintf("chore(api): reject pending %s for %s", u, tenant),
		func(p *models.Pending) (bool, error) {
			if _, ok := (*p)[u]; !ok {
				return false, nil
			}
			delete(*p, u)
			return true, nil
		})
	if err != nil {
		return "", false, err
	}

	users, err := s.readUsers(ctx, tenant)
	if err != nil {
		return "", false, err
	}
	if !users.IsAllowed(u) {
		_, purged, err := repository.UpdateJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords,
			fmt.Sprintf("chore(api): purge stray password %s for %s", u, tenant),
			dropPassword(u))
		if err != nil {
			return "", false, err
		}
		changed = changed || purged
	}

	return u, changed, nil
}

// DeleteUser revokes an approved user and drops the password hash.
func (s *UserService) DeleteUser(ctx context.Context, tenant, username string) (string, bool, error) {
	u := NormalizeUsername(username)
	if u == models.AdminUser {
		return "", false, ErrAdminDelete
	}
	if !validUsername(u) {
		return "", false, ErrInvalid
	}

	_, revoked, err := repository.UpdateJSON(ctx, s.docs, models.UsersPath(tenant), models.NewUsers,
		fmt.Sprintf("chore(api): delete user %s for %s", u, tenant),
		func(users *models.Users) (bool, error) {
			return users.Revoke(u), nil
		})
	if err != nil {
		return "", false, err
	}

	_, dropped, err := repository.UpdateJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords,
		fmt.Sprintf("chore(api): drop password %s for %s", u, tenant),
		dropPassword(u))
	if err != nil {
		return "", false, err
	}

	return u, revoked || dropped, nil
}

func dropPassword(u string) func(*models.Passwords) (bool, error) {
	return func(pw *models.Passwords) (bool, error) {
		if _, ok := (*pw)[u]; !ok {
			return false, nil
		}
		delete(*pw, u)
		return true, nil
	}
}

// SetPassword stores a new password for an approved user.
func (s *UserService) SetPassword(ctx context.Context, tenant, username, password string) (string, error) {
	u := NormalizeUsername(username)
	if !validUsername(u) || password == "" {
		return "", ErrInvalid
	}
	if err := passhash.Validate(password); err != nil {
		return "", ErrWeakPassword
	}

	users, err := s.readUsers(ctx, tenant)
	if err != nil {
		return "", err
	}
	if !users.IsAllowed(u) {
		return "", ErrNotAllowed
	}

	hash, err := passhash.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	_, _, err = repository.UpdateJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords,
		fmt.Sprintf("chore(api): set password for %s (%s)", u, tenant),
		func(pw *models.Passwords) (bool, error) {
			if *pw == nil {
				*pw = models.Passwords{}
			}
			(*pw)[u] = hash
			return true, nil
		})
	if err != nil {
		return "", err
	}
	return u, nil
}

// ChangePassword lets a user replace their own password after proving the
// current one.
func (s *UserService) ChangePassword(ctx context.Context, tenant, username, current, next string) (string, error) {
	if _, err := s.Login(ctx, tenant, username, current); err != nil {
		return "", err
	}
	return s.SetPassword(ctx, tenant, username, next)
}

// Login checks the credentials of an approved user and returns the
// normalized username.
func (s *UserService) Login(ctx context.Context, tenant, username, password string) (string, error) {
	u := NormalizeUsername(username)
	if !validUsername(u) {
		return "", ErrUnauthorized
	}

	users, err := s.readUsers(ctx, tenant)
	if err != nil {
		return "", err
	}
	if !users.IsAllowed(u) {
		return "", ErrUnauthorized
	}

	passwords, _, err := repository.ReadJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords)
	if err != nil {
		return "", err
	}
	hash, ok := passwords[u]
	if !ok || !passhash.IsHash(hash) {
		return "", ErrNoPassword
	}
	if !passhash.Verify(hash, password) {
		return "", ErrInvalidPassword
	}
	return u, nil
}

// ListUsers returns approved users, pending registrations and which users
// have a password.
func (s *UserService) ListUsers(ctx context.Context, tenant string) (*UserList, error) {
	users, err := s.readUsers(ctx, tenant)
	if err != nil {
		return nil, err
	}
	pending, _, err := repository.ReadJSON(ctx, s.docs, models.PendingPath(tenant), newPending)
	if err != nil {
		return nil, err
	}
	passwords, _, err := repository.ReadJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords)
	if err != nil {
		return nil, err
	}

	return &UserList{
		Allowed:      users.Allowed,
		Pending:      sortedKeys(pending),
		WithPassword: sortedKeys(passwords),
	}, nil
}

func sortedKeys[M ~map[string]string](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Migrate converts a users.json that still carries inline passwords or
// pending registrations into the split layout. Plaintext values are hashed
// on the way. Entries already present in the split files win. users.json is
// rewritten last, so a failed migration can simply be run again.
func (s *UserService) Migrate(ctx context.Context, tenant string) (*MigrationResult, error) {
	legacy, _, err := repository.ReadJSON(ctx, s.docs, models.UsersPath(tenant), models.NewUsers)
	if err != nil {
		return nil, err
	}
	if legacy.Version >= models.UsersLayoutVersion && len(legacy.LegacyPasswords) == 0 && len(legacy.LegacyPending) == 0 {
		return &MigrationResult{}, nil
	}

	allowed := make([]string, 0, len(legacy.Allowed))
	for _, name := range legacy.Allowed {
		if n := NormalizeUsername(name); validUsername(n) {
			allowed = append(allowed, n)
		}
	}

	hashedPasswords, err := hashLegacy(legacy.LegacyPasswords)
	if err != nil {
		return nil, err
	}
	hashedPending, err := hashLegacy(legacy.LegacyPending)
	if err != nil {
		return nil, err
	}

	res := &MigrationResult{Migrated: true}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.PasswordsPath(tenant), newPasswords,
		fmt.Sprintf("chore(api): migrate passwords for %s", tenant),
		func(pw *models.Passwords) (bool, error) {
			if *pw == nil {
				*pw = models.Passwords{}
			}
			res.Passwords = 0
			for u, h := range hashedPasswords {
				if _, ok := (*pw)[u]; ok {
					continue
				}
				(*pw)[u] = h
				res.Passwords++
			}
			return res.Passwords > 0, nil
		})
	if err != nil {
		return nil, &StepError{Step: StepPasswords, Err: err}
	}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.PendingPath(tenant), newPending,
		fmt.Sprintf("chore(api): migrate pending for %s", tenant),
		func(p *models.Pending) (bool, error) {
			if *p == nil {
				*p = models.Pending{}
			}
			res.Pending = 0
			for u, h := range hashedPending {
				if _, ok := (*p)[u]; ok || slices.Contains(allowed, u) {
					continue
				}
				(*p)[u] = h
				res.Pending++
			}
			return res.Pending > 0, nil
		})
	if err != nil {
		return nil, &StepError{Step: StepPending, Err: err}
	}

	_, _, err = repository.UpdateJSON(ctx, s.docs, models.UsersPath(tenant), models.NewUsers,
		fmt.Sprintf("chore(api): migrate users layout for %s", tenant),
		func(users *models.Users) (bool, error) {
			merged := slices.Clone(allowed)
			for _, name := range users.Allowed {
				if n := NormalizeUsername(name); validUsername(n) {
					merged = append(merged, n)
				}
			}
			*users = models.Users{Version: models.UsersLayoutVersion, Allowed: merged}
			users.Normalize()
			return true, nil
		})
	if err != nil {
		return nil, &StepError{Step: StepUsers, Err: err}
	}

	s.log.Info("users layout migrated",
		zap.String("tenant", tenant),
		zap.Int("passwords", res.Passwords),
		zap.Int("pending", res.Pending))
	return res, nil
}

func hashLegacy(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for name, v := range in {
		u := NormalizeUsername(name)
		if !validUsername(u) || v == "" {
			continue
		}
		h, err := passhash.Ensure(v)
		if err != nil {
			return nil, fmt.Errorf("hash legacy password: %w", err)
		}
		out[u] = h
	}
	return out, nil
}
