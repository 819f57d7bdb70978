package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/models"
	"github.com/atinyakov/qrmenu/internal/passhash"
	"github.com/atinyakov/qrmenu/internal/repository"
)

const strongPassword = "Str0ng!Pass"

func TestRegister_ShowsAsPending(t *testing.T) {
	svc, mem := newUserService(t)
	ctx := context.Background()

	got, err := svc.Register(ctx, tenant, "  Alice ", strongPassword)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if got != "alice" {
		t.Errorf("Register = %q; want %q", got, "alice")
	}

	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if !slices.Equal(list.Pending, []string{"alice"}) {
		t.Errorf("Pending = %v; want [alice]", list.Pending)
	}
	if slices.Contains(list.Allowed, "alice") {
		t.Errorf("Allowed = %v; must not contain a pending user", list.Allowed)
	}

	doc, err := mem.Get(ctx, models.PendingPath(tenant))
	if err != nil {
		t.Fatalf("pending.json not written: %v", err)
	}
	var pending models.Pending
	if err := json.Unmarshal(doc.Content, &pending); err != nil {
		t.Fatalf("pending.json is not valid JSON: %v", err)
	}
	if !passhash.IsHash(pending["alice"]) {
		t.Errorf("pending password stored as %q; want a bcrypt hash", pending["alice"])
	}
}

func TestRegister_Errors(t *testing.T) {
	svc, mem := newUserService(t)
	ctx := context.Background()
	seed(t, mem, models.UsersPath(tenant), `{"allowed":["admin","bob"]}`)
	if _, err := svc.Register(ctx, tenant, "carol", strongPassword); err != nil {
		t.Fatalf("Register carol: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"admin is reserved", "admin", strongPassword, ErrInvalid},
		{"admin any case", " ADMIN ", strongPassword, ErrInvalid},
		{"empty username", "", strongPassword, ErrInvalid},
		{"illegal characters", "bob smith", strongPassword, ErrInvalid},
		{"empty password", "dave", "", ErrInvalid},
		{"weak password", "dave", "password", ErrWeakPassword},
		{"already approved", "Bob", strongPassword, ErrExists},
		{"already pending", "carol", strongPassword, ErrPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tenant, tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register(%q) error = %v; want %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestApproveThenLogin(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, tenant, "alice", strongPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, changed, err := svc.Approve(ctx, tenant, "Alice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if u != "alice" || !changed {
		t.Errorf("Approve = (%q, %v); want (alice, true)", u, changed)
	}

	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if !slices.Equal(list.Allowed, []string{"admin", "alice"}) {
		t.Errorf("Allowed = %v; want [admin alice]", list.Allowed)
	}
	if len(list.Pending) != 0 {
		t.Errorf("Pending = %v; want none", list.Pending)
	}
	if !slices.Equal(list.WithPassword, []string{"alice"}) {
		t.Errorf("WithPassword = %v; want [alice]", list.WithPassword)
	}

	if _, err := svc.Login(ctx, tenant, "alice", strongPassword); err != nil {
		t.Errorf("Login with correct password: %v", err)
	}
	if _, err := svc.Login(ctx, tenant, "alice", "Wr0ng!Pass"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Login with wrong password error = %v; want %v", err, ErrInvalidPassword)
	}

	_, changed, err = svc.Approve(ctx, tenant, "alice")
	if err != nil || changed {
		t.Errorf("second Approve = (changed %v, err %v); want (false, nil)", changed, err)
	}
}

func TestApprove_NotPending(t *testing.T) {
	svc, _ := newUserService(t)
	if _, _, err := svc.Approve(context.Background(), tenant, "ghost"); !errors.Is(err, ErrNotPending) {
		t.Errorf("Approve error = %v; want %v", err, ErrNotPending)
	}
}

func TestApprove_HashesLegacyPlaintext(t *testing.T) {
	svc, mem := newUserService(t)
	ctx := context.Background()
	seed(t, mem, models.PendingPath(tenant), `{"bob":"Legacy!Pass1"}`)

	if _, _, err := svc.Approve(ctx, tenant, "bob"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	doc, err := mem.Get(ctx, models.PasswordsPath(tenant))
	if err != nil {
		t.Fatalf("passwords.json not written: %v", err)
	}
	var pw models.Passwords
	if err := json.Unmarshal(doc.Content, &pw); err != nil {
		t.Fatalf("passwords.json: %v", err)
	}
	if !passhash.IsHash(pw["bob"]) {
		t.Fatalf("stored password %q is not a bcrypt hash", pw["bob"])
	}
	if _, err := svc.Login(ctx, tenant, "bob", "Legacy!Pass1"); err != nil {
		t.Errorf("Login: %v", err)
	}
}

func TestApprove_ResumesAfterPartialFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore(), failOn: "pending.json"}
	svc := NewUserService(newDocs(store), zap.NewNop())
	ctx := context.Background()
	seed(t, store.MemoryStore, models.PendingPath(tenant), `{"alice":"Legacy!Pass1"}`)

	_, _, err := svc.Approve(ctx, tenant, "alice")
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Approve error = %v; want *StepError", err)
	}
	if stepErr.Step != StepPending {
		t.Errorf("failed step = %q; want %q", stepErr.Step, StepPending)
	}
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Errorf("step error should wrap the store error, got %v", err)
	}

	if _, err := svc.Login(ctx, tenant, "alice", "Legacy!Pass1"); err != nil {
		t.Errorf("user should already be able to log in after the partial approval: %v", err)
	}

	store.heal()
	_, changed, err := svc.Approve(ctx, tenant, "alice")
	if err != nil || !changed {
		t.Fatalf("retried Approve = (changed %v, err %v); want (true, nil)", changed, err)
	}
	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(list.Pending) != 0 || !slices.Contains(list.Allowed, "alice") {
		t.Errorf("after retry allowed = %v, pending = %v", list.Allowed, list.Pending)
	}
}

func TestApprove_ResumeKeepsChangedPassword(t *testing.T) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	svc := NewUserService(newDocs(store), zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Register(ctx, tenant, "alice", strongPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	store.failOn = "pending.json"
	if _, _, err := svc.Approve(ctx, tenant, "alice"); err == nil {
		t.Fatal("Approve with failing pending.json succeeded")
	}
	store.heal()

	const changedPassword = "N3w!Secret9"
	if _, err := svc.ChangePassword(ctx, tenant, "alice", strongPassword, changedPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	_, changed, err := svc.Approve(ctx, tenant, "alice")
	if err != nil || !changed {
		t.Fatalf("retried Approve = (changed %v, err %v); want (true, nil)", changed, err)
	}
	if _, err := svc.Login(ctx, tenant, "alice", changedPassword); err != nil {
		t.Errorf("Login with changed password = %v; want nil", err)
	}
	if _, err := svc.Login(ctx, tenant, "alice", strongPassword); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Login with registration password = %v; want %v", err, ErrInvalidPassword)
	}
	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(list.Pending) != 0 {
		t.Errorf("Pending = %v; want empty", list.Pending)
	}
}

func TestRejectThenLogin(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, tenant, "alice", strongPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, changed, err := svc.Reject(ctx, tenant, "alice")
	if err != nil || !changed {
		t.Fatalf("Reject = (changed %v, err %v); want (true, nil)", changed, err)
	}
	_, changed, err = svc.Reject(ctx, tenant, "alice")
	if err != nil || changed {
		t.Fatalf("second Reject = (changed %v, err %v); want (false, nil)", changed, err)
	}

	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(list.Pending) != 0 || slices.Contains(list.Allowed, "alice") {
		t.Errorf("after reject allowed = %v, pending = %v", list.Allowed, list.Pending)
	}
	if _, err := svc.Login(ctx, tenant, "alice", strongPassword); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Login error = %v; want %v", err, ErrUnauthorized)
	}
}

func TestReject_PurgesStrayPassword(t *testing.T) {
	svc, mem := newUserService(t)
	ctx := context.Background()
	hash, err := passhash.Hash(strongPassword)
	if err != nil {
		t.Fatal(err)
	}
	seed(t, mem, models.PasswordsPath(tenant), fmt.Sprintf(`{"ghost":%q}`, hash))

	_, changed, err := svc.Reject(ctx, tenant, "ghost")
	if err != nil || !changed {
		t.Fatalf("Reject = (changed %v, err %v); want (true, nil)", changed, err)
	}
	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(list.WithPassword) != 0 {
		t.Errorf("WithPassword = %v; want none", list.WithPassword)
	}
}

func TestDeleteUser(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	for _, name := range []string{"admin", " Admin"} {
		if _, _, err := svc.DeleteUser(ctx, tenant, name); !errors.Is(err, ErrAdminDelete) {
			t.Errorf("DeleteUser(%q) error = %v; want %v", name, err, ErrAdminDelete)
		}
	}

	if _, err := svc.Register(ctx, tenant, "alice", strongPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := svc.Approve(ctx, tenant, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, changed, err := svc.DeleteUser(ctx, tenant, "alice")
	if err != nil || !changed {
		t.Fatalf("DeleteUser = (changed %v, err %v); want (true, nil)", changed, err)
	}
	_, changed, err = svc.DeleteUser(ctx, tenant, "alice")
	if err != nil || changed {
		t.Fatalf("second DeleteUser = (changed %v, err %v); want (false, nil)", changed, err)
	}

	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if slices.Contains(list.Allowed, "alice") || len(list.WithPassword) != 0 {
		t.Errorf("after delete allowed = %v, passwords = %v", list.Allowed, list.WithPassword)
	}
	if _, err := svc.Login(ctx, tenant, "alice", strongPassword); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Login error = %v; want %v", err, ErrUnauthorized)
	}
}

func TestSetPassword(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	if _, err := svc.SetPassword(ctx, tenant, "nobody", strongPassword); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("SetPassword for unknown user error = %v; want %v", err, ErrNotAllowed)
	}
	if _, err := svc.SetPassword(ctx, tenant, "admin", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("SetPassword weak error = %v; want %v", err, ErrWeakPassword)
	}

	if _, err := svc.Login(ctx, tenant, "admin", strongPassword); !errors.Is(err, ErrNoPassword) {
		t.Errorf("Login before a password is set error = %v; want %v", err, ErrNoPassword)
	}
	if _, err := svc.SetPassword(ctx, tenant, "admin", strongPassword); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, err := svc.Login(ctx, tenant, "admin", strongPassword); err != nil {
		t.Errorf("Login after SetPassword: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()
	if _, err := svc.SetPassword(ctx, tenant, "admin", strongPassword); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	const next = "N3w!Secret"
	if _, err := svc.ChangePassword(ctx, tenant, "admin", "Wr0ng!Pass", next); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("ChangePassword with wrong current error = %v; want %v", err, ErrInvalidPassword)
	}
	if _, err := svc.ChangePassword(ctx, tenant, "admin", strongPassword, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("ChangePassword with weak next error = %v; want %v", err, ErrWeakPassword)
	}
	if _, err := svc.ChangePassword(ctx, tenant, "admin", strongPassword, next); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Login(ctx, tenant, "admin", next); err != nil {
		t.Errorf("Login with new password: %v", err)
	}
	if _, err := svc.Login(ctx, tenant, "admin", strongPassword); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Login with old password error = %v; want %v", err, ErrInvalidPassword)
	}
}

func TestMigrate(t *testing.T) {
	svc, mem := newUserService(t)
	ctx := context.Background()
	seed(t, mem, models.UsersPath(tenant), `{
		"allowed": ["Alice"],
		"passwords": {"Alice": "Plain!Pass1"},
		"pending": {"bob": "Bob!Pass12", "alice": "ignored"}
	}`)

	res, err := svc.Migrate(ctx, tenant)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !res.Migrated || res.Passwords != 1 || res.Pending != 1 {
		t.Errorf("Migrate = %+v; want migrated with 1 password and 1 pending", res)
	}

	doc, err := mem.Get(ctx, models.UsersPath(tenant))
	if err != nil {
		t.Fatalf("users.json: %v", err)
	}
	var users models.Users
	if err := json.Unmarshal(doc.Content, &users); err != nil {
		t.Fatalf("users.json: %v", err)
	}
	if users.Version != models.UsersLayoutVersion || users.LegacyPasswords != nil || users.LegacyPending != nil {
		t.Errorf("users.json after migration = %+v", users)
	}
	if !slices.Equal(users.Allowed, []string{"admin", "alice"}) {
		t.Errorf("Allowed = %v; want [admin alice]", users.Allowed)
	}

	if _, err := svc.Login(ctx, tenant, "alice", "Plain!Pass1"); err != nil {
		t.Errorf("Login after migration: %v", err)
	}
	if _, _, err := svc.Approve(ctx, tenant, "bob"); err != nil {
		t.Errorf("Approve migrated pending user: %v", err)
	}

	again, err := svc.Migrate(ctx, tenant)
	if err != nil || again.Migrated {
		t.Errorf("second Migrate = (%+v, %v); want no-op", again, err)
	}
}

func TestStoreFailuresPropagate(t *testing.T) {
	gh := repository.NewGitHubStore(repository.GitHubConfig{}, nil, zap.NewNop())
	svc := NewUserService(newDocs(gh), zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Register(ctx, tenant, "alice", strongPassword); !errors.Is(err, repository.ErrMisconfigured) {
		t.Errorf("Register error = %v; want %v", err, repository.ErrMisconfigured)
	}
	if _, err := svc.ListUsers(ctx, tenant); !errors.Is(err, repository.ErrMisconfigured) {
		t.Errorf("ListUsers error = %v; want %v", err, repository.ErrMisconfigured)
	}
	if _, err := svc.Login(ctx, tenant, "alice", strongPassword); !errors.Is(err, repository.ErrMisconfigured) {
		t.Errorf("Login error = %v; want %v", err, repository.ErrMisconfigured)
	}
}

func TestRegister_Concurrent(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Register(ctx, tenant, fmt.Sprintf("user%d", i), strongPassword); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Register: %v", err)
	}

	list, err := svc.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(list.Pending) != n {
		t.Errorf("Pending = %v; want %d users, none lost", list.Pending, n)
	}
}
