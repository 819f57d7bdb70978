// Package models defines the persisted records of a tenant: approved users,
// password hashes, pending registrations and the public menu.
package models

import (
	"fmt"
	"slices"
)

// AdminUser is the built-in account that is always part of Users.Allowed.
const AdminUser = "admin"

// UsersLayoutVersion marks a users.json document that keeps passwords and
// pending registrations in their own files.
const UsersLayoutVersion = 2

// Users is the content of data/{tenant}/users.json.
type Users struct {
	// Version is UsersLayoutVersion once the document has been migrated.
	Version int `json:"version,omitempty"`
	// Allowed lists approved usernames in insertion order.
	Allowed []string `json:"allowed"`

	// LegacyPasswords and LegacyPending are only read by the migration.
	LegacyPasswords map[string]string `json:"passwords,omitempty"`
	LegacyPending   map[string]string `json:"pending,omitempty"`
}

// NewUsers returns the default document for a tenant without users.json.
func NewUsers() Users {
	return Users{Version: UsersLayoutVersion, Allowed: []string{AdminUser}}
}

// Normalize makes sure admin is present exactly once and drops duplicates
// while keeping the original order.
func (u *Users) Normalize() {
	out := make([]string, 0, len(u.Allowed)+1)
	out = append(out, AdminUser)
	for _, name := range u.Allowed {
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	u.Allowed = out
}

// IsAllowed reports whether username is an approved user.
func (u *Users) IsAllowed(username string) bool {
	return username == AdminUser || slices.Contains(u.Allowed, username)
}

// Allow adds username and reports whether the list changed.
func (u *Users) Allow(username string) bool {
	if u.IsAllowed(username) {
		return false
	}
	u.Allowed = append(u.Allowed, username)
	return true
}

// Revoke removes username and reports whether the list changed.
// Admin can never be revoked.
func (u *Users) Revoke(username string) bool {
	if username == AdminUser {
		return false
	}
	n := len(u.Allowed)
	u.Allowed = slices.DeleteFunc(u.Allowed, func(s string) bool { return s == username })
	return len(u.Allowed) != n
}

// Passwords maps a username to its bcrypt hash (data/{tenant}/passwords.json).
type Passwords map[string]string

// Pending maps a username awaiting approval to its bcrypt hash
// (data/{tenant}/pending.json). Old deployments stored plaintext here.
type Pending map[string]string

// MenuItem is one entry of the public menu. JSON names follow the SPA.
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"desc"`
	Price       float64 `json:"price"`
	// ImageRef is either a URL or an embedded data URL.
	ImageRef string `json:"img"`
	Category string `json:"category"`
}

// UsersPath returns the repository path of the users document.
func UsersPath(tenant string) string {
	return fmt.Sprintf("data/%s/users.json", tenant)
}

// PasswordsPath returns the repository path of the password hashes.
func PasswordsPath(tenant string) string {
	return fmt.Sprintf("data/%s/passwords.json", tenant)
}

// PendingPath returns the repository path of pending registrations.
func PendingPath(tenant string) string {
	return fmt.Sprintf("data/%s/pending.json", tenant)
}

// MenuPath returns the repository path of the public menu.
func MenuPath(tenant string) string {
	return fmt.Sprintf("public/menus/%s.json", tenant)
}
