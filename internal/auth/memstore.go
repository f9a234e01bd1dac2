package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"authgate.dev/internal/ids"
)

// MemStore implements Store with in-process concurrency safety. It backs
// the test suite and lets cmd/api run without a database; production uses
// store/pg.
type MemStore struct {
	mu sync.RWMutex

	users        map[string]*User   // by id
	usersByEmail map[string]string  // email -> id
	roles        map[string]*Role   // by id
	rolesByName  map[string]string  // name -> id
	assignments  map[string]map[string]time.Time // userID -> roleID -> assigned at
	permissions  map[string]*Permission          // by id
	permsByName  map[string]string               // name -> id
	rolePerms    map[string]map[string]struct{}  // roleID -> permissionID set
	refresh      map[string]*RefreshToken        // by token hash
	resets       map[string]*PasswordResetToken  // by token hash
	attempts     []LoginAttempt
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:        make(map[string]*User),
		usersByEmail: make(map[string]string),
		roles:        make(map[string]*Role),
		rolesByName:  make(map[string]string),
		assignments:  make(map[string]map[string]time.Time),
		permissions:  make(map[string]*Permission),
		permsByName:  make(map[string]string),
		rolePerms:    make(map[string]map[string]struct{}),
		refresh:      make(map[string]*RefreshToken),
		resets:       make(map[string]*PasswordResetToken),
	}
}

func (m *MemStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *MemStore) Roles() RoleStore                 { return (*memRoles)(m) }
func (m *MemStore) Permissions() PermissionStore     { return (*memPerms)(m) }
func (m *MemStore) RefreshTokens() RefreshTokenStore { return (*memRefresh)(m) }
func (m *MemStore) ResetTokens() ResetTokenStore     { return (*memResets)(m) }
func (m *MemStore) LoginAttempts() LoginAttemptStore { return (*memAttempts)(m) }

func (m *MemStore) CompletePasswordReset(ctx context.Context, userID, resetTokenID, passwordHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	var reset *PasswordResetToken
	for _, t := range m.resets {
		if t.ID == resetTokenID {
			reset = t
			break
		}
	}
	if reset == nil {
		return fmt.Errorf("%w: reset token %s", ErrNotFound, resetTokenID)
	}

	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	reset.Used = true
	for _, t := range m.refresh {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			ts := at
			t.RevokedAt = &ts
		}
	}
	return nil
}

// Users ---------------------------------------------------------------

type memUsers MemStore

func (m *memUsers) Create(ctx context.Context, u *User, roleNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByEmail[u.Email]; exists {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	cp := *u
	m.users[u.ID] = &cp
	m.usersByEmail[u.Email] = u.ID

	// Roles that do not exist yet are skipped, matching a deployment where
	// the defaults have not been seeded.
	for _, name := range roleNames {
		roleID, ok := m.rolesByName[name]
		if !ok {
			continue
		}
		if m.assignments[u.ID] == nil {
			m.assignments[u.ID] = make(map[string]time.Time)
		}
		m.assignments[u.ID][roleID] = u.CreatedAt
	}
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, fmt.Errorf("%w: user", ErrNotFound)
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	ts := at
	u.LastLoginAt = &ts
	return nil
}

// Roles ---------------------------------------------------------------

type memRoles MemStore

func (m *memRoles) Create(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rolesByName[role.Name]; exists {
		return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	cp := *role
	m.roles[role.ID] = &cp
	m.rolesByName[role.Name] = role.ID
	return nil
}

func (m *memRoles) Find(ctx context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	cp := *role
	return &cp, nil
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rolesByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	cp := *m.roles[id]
	return &cp, nil
}

func (m *memRoles) List(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) Update(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.roles[role.ID]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, role.ID)
	}
	if role.Name != existing.Name {
		if _, taken := m.rolesByName[role.Name]; taken {
			return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
		}
		delete(m.rolesByName, existing.Name)
		m.rolesByName[role.Name] = role.ID
	}
	role.UpdatedAt = time.Now().UTC()
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	delete(m.rolesByName, role.Name)
	delete(m.roles, id)
	delete(m.rolePerms, id)
	for userID := range m.assignments {
		delete(m.assignments[userID], id)
	}
	return nil
}

func (m *memRoles) Assign(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if _, ok := m.assignments[userID][roleID]; ok {
		return fmt.Errorf("%w: role already assigned", ErrConflict)
	}
	if m.assignments[userID] == nil {
		m.assignments[userID] = make(map[string]time.Time)
	}
	m.assignments[userID][roleID] = time.Now().UTC()
	return nil
}

func (m *memRoles) Unassign(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[userID][roleID]; !ok {
		return fmt.Errorf("%w: assignment", ErrNotFound)
	}
	delete(m.assignments[userID], roleID)
	return nil
}

func (m *memRoles) RolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Role
	for roleID := range m.assignments[userID] {
		if role, ok := m.roles[roleID]; ok {
			cp := *role
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Permissions ---------------------------------------------------------

type memPerms MemStore

func (m *memPerms) Ensure(ctx context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, exists := m.permsByName[p.Name]; exists {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		cp := p
		m.permissions[p.ID] = &cp
		m.permsByName[p.Name] = p.ID
	}
	return nil
}

func (m *memPerms) List(ctx context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memPerms) Find(ctx context.Context, id string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[id]
	if !ok {
		return nil, fmt.Errorf("%w: permission %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *memPerms) AssignToRole(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if _, ok := m.permissions[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", ErrNotFound, permissionID)
	}
	if _, ok := m.rolePerms[roleID][permissionID]; ok {
		return fmt.Errorf("%w: permission already assigned to role", ErrConflict)
	}
	if m.rolePerms[roleID] == nil {
		m.rolePerms[roleID] = make(map[string]struct{})
	}
	m.rolePerms[roleID][permissionID] = struct{}{}
	return nil
}

func (m *memPerms) RemoveFromRole(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rolePerms[roleID][permissionID]; !ok {
		return fmt.Errorf("%w: role permission", ErrNotFound)
	}
	delete(m.rolePerms[roleID], permissionID)
	return nil
}

func (m *memPerms) ForRole(ctx context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for permID := range m.rolePerms[roleID] {
		if p, ok := m.permissions[permID]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memPerms) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for roleID := range m.assignments[userID] {
		for permID := range m.rolePerms[roleID] {
			if p, ok := m.permissions[permID]; ok {
				seen[p.Name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Refresh tokens ------------------------------------------------------

type memRefresh MemStore

func (m *memRefresh) Create(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.refresh[tok.TokenHash]; exists {
		return fmt.Errorf("%w: token hash already stored", ErrConflict)
	}
	cp := *tok
	m.refresh[tok.TokenHash] = &cp
	return nil
}

func (m *memRefresh) FindByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.refresh[hash]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	cp := *tok
	return &cp, nil
}

func (m *memRefresh) RevokeActive(ctx context.Context, hash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[hash]
	if !ok || tok.Revoked {
		return false, nil
	}
	tok.Revoked = true
	ts := at
	tok.RevokedAt = &ts
	return true, nil
}

func (m *memRefresh) RevokeByHash(ctx context.Context, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.refresh[hash]; ok && !tok.Revoked {
		tok.Revoked = true
		ts := at
		tok.RevokedAt = &ts
	}
	return nil
}

func (m *memRefresh) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, tok := range m.refresh {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			ts := at
			tok.RevokedAt = &ts
			n++
		}
	}
	return n, nil
}

func (m *memRefresh) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, tok := range m.refresh {
		if tok.ExpiresAt.Before(cutoff) {
			delete(m.refresh, hash)
			n++
		}
	}
	return n, nil
}

func (m *memRefresh) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, tok := range m.refresh {
		if tok.Revoked && tok.RevokedAt != nil && tok.RevokedAt.Before(cutoff) {
			delete(m.refresh, hash)
			n++
		}
	}
	return n, nil
}

// Reset tokens --------------------------------------------------------

type memResets MemStore

func (m *memResets) Create(ctx context.Context, tok *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.resets[tok.TokenHash]; exists {
		return fmt.Errorf("%w: token hash already stored", ErrConflict)
	}
	cp := *tok
	m.resets[tok.TokenHash] = &cp
	return nil
}

func (m *memResets) FindByHash(ctx context.Context, hash string) (*PasswordResetToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.resets[hash]
	if !ok {
		return nil, fmt.Errorf("%w: reset token", ErrNotFound)
	}
	cp := *tok
	return &cp, nil
}

// Login attempts ------------------------------------------------------

type memAttempts MemStore

func (m *memAttempts) Record(ctx context.Context, attempt *LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memAttempts) CountFailedSince(ctx context.Context, email string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.attempts {
		if a.Email == email && !a.Successful && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
