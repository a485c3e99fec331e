package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/repository"
)

// memDB is a shared in-memory backing store for the fake repositories.
type memDB struct {
	mu          sync.Mutex
	nextID      uint64
	users       map[uint64]*model.User
	sessions    map[uint64]*model.Session
	workspaces  map[uint64]*model.Workspace
	members     map[uint64]*model.WorkspaceMember
	invitations map[uint64]*model.WorkspaceInvitation
	audits      []model.AuditLog
}

func newMemDB() *memDB {
	return &memDB{
		users:       map[uint64]*model.User{},
		sessions:    map[uint64]*model.Session{},
		workspaces:  map[uint64]*model.Workspace{},
		members:     map[uint64]*model.WorkspaceMember{},
		invitations: map[uint64]*model.WorkspaceInvitation{},
	}
}

func (d *memDB) id() uint64 {
	d.nextID++
	return d.nextID
}

func newFakeStores() (repository.Stores, *memDB) {
	db := newMemDB()
	return repository.Stores{
		Users:       &fakeUsers{db},
		Sessions:    &fakeSessions{db},
		Workspaces:  &fakeWorkspaces{db},
		Members:     &fakeMembers{db},
		Invitations: &fakeInvitations{db},
		Audit:       &fakeAudit{db},
	}, db
}

// fakeUOW runs the closure against the same stores; rollback fidelity is not
// part of what these tests assert.
type fakeUOW struct{ stores repository.Stores }

func (u *fakeUOW) WithTx(_ context.Context, fn func(repository.Stores) error) error {
	return fn(u.stores)
}

type sentEmail struct {
	kind  string
	to    string
	token string
	role  string
}

// fakeNotifier records every queued email.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (n *fakeNotifier) record(e sentEmail) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, e)
}

func (n *fakeNotifier) SendVerificationEmail(_ context.Context, to, _, token string) {
	n.record(sentEmail{kind: "verification", to: to, token: token})
}
func (n *fakeNotifier) SendPasswordResetEmail(_ context.Context, to, _, token string) {
	n.record(sentEmail{kind: "reset", to: to, token: token})
}
func (n *fakeNotifier) SendPasswordChangedEmail(_ context.Context, to, _ string) {
	n.record(sentEmail{kind: "changed", to: to})
}
func (n *fakeNotifier) SendWorkspaceInvite(_ context.Context, to, _, _, role, token string) {
	n.record(sentEmail{kind: "invite", to: to, token: token, role: role})
}

func (n *fakeNotifier) byKind(kind string) []sentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentEmail
	for _, e := range n.sent {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ----- users -----

type fakeUsers struct{ db *memDB }

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, ex := range f.db.users {
		if ex.Email == email {
			return repository.ErrEmailExists
		}
	}
	u.ID = f.db.id()
	u.Email = email
	u.CreatedAt = time.Now().UTC()
	cp := *u
	f.db.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) find(match func(*model.User) bool) (model.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if match(u) {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(email)
	return f.find(func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id })
}

func (f *fakeUsers) GetByVerifyToken(_ context.Context, tok string) (model.User, error) {
	return f.find(func(u *model.User) bool { return tok != "" && u.EmailVerifyToken == tok })
}

func (f *fakeUsers) GetByResetToken(_ context.Context, tok string) (model.User, error) {
	return f.find(func(u *model.User) bool { return tok != "" && u.PasswordResetToken == tok })
}

func (f *fakeUsers) mutate(id uint64, fn func(*model.User)) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id uint64, at time.Time, ip string) error {
	return f.mutate(id, func(u *model.User) { u.LastLoginAt = &at; u.LastLoginIP = ip })
}

func (f *fakeUsers) MarkEmailVerified(_ context.Context, id uint64) error {
	return f.mutate(id, func(u *model.User) {
		u.EmailVerified = true
		u.EmailVerifyToken = ""
		u.EmailVerifyExpiry = nil
	})
}

func (f *fakeUsers) SetVerifyToken(_ context.Context, id uint64, tok string, exp time.Time) error {
	return f.mutate(id, func(u *model.User) { u.EmailVerifyToken = tok; u.EmailVerifyExpiry = &exp })
}

func (f *fakeUsers) SetResetToken(_ context.Context, id uint64, tok string, exp time.Time) error {
	return f.mutate(id, func(u *model.User) { u.PasswordResetToken = tok; u.PasswordResetExpiry = &exp })
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id uint64, hash string) error {
	return f.mutate(id, func(u *model.User) {
		u.PasswordHash = hash
		u.PasswordResetToken = ""
		u.PasswordResetExpiry = nil
	})
}

// ----- sessions -----

type fakeSessions struct{ db *memDB }

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, ex := range f.db.sessions {
		if ex.TokenHash == s.TokenHash {
			return repository.ErrDuplicateSession
		}
	}
	s.ID = f.db.id()
	s.CreatedAt = time.Now().UTC()
	cp := *s
	f.db.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetByHash(_ context.Context, hash string) (model.Session, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, s := range f.db.sessions {
		if s.TokenHash == hash {
			return *s, nil
		}
	}
	return model.Session{}, repository.ErrNotFound
}

func (f *fakeSessions) Revoke(_ context.Context, id uint64) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.sessions[id]
	if !ok || s.RevokedAt != nil {
		return 0, nil
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	return 1, nil
}

func (f *fakeSessions) RevokeByHashForUser(_ context.Context, userID uint64, hash string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, s := range f.db.sessions {
		if s.UserID == userID && s.TokenHash == hash && s.RevokedAt == nil {
			now := time.Now().UTC()
			s.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeSessions) RevokeAllForUser(_ context.Context, userID uint64) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, s := range f.db.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

// ----- workspaces -----

type fakeWorkspaces struct{ db *memDB }

func (f *fakeWorkspaces) Create(_ context.Context, w *model.Workspace) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, ex := range f.db.workspaces {
		if ex.Slug == w.Slug {
			return repository.ErrSlugExists
		}
	}
	if w.Plan == "" {
		w.Plan = "free"
	}
	if w.Status == "" {
		w.Status = model.WorkspaceActive
	}
	w.ID = f.db.id()
	w.CreatedAt = time.Now().UTC()
	cp := *w
	f.db.workspaces[w.ID] = &cp
	return nil
}

func (f *fakeWorkspaces) GetByID(_ context.Context, id uint64) (model.Workspace, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	w, ok := f.db.workspaces[id]
	if !ok || w.Status != model.WorkspaceActive {
		return model.Workspace{}, repository.ErrNotFound
	}
	return *w, nil
}

func (f *fakeWorkspaces) GetBySlug(_ context.Context, slug string) (model.Workspace, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, w := range f.db.workspaces {
		if w.Slug == slug && w.Status == model.WorkspaceActive {
			return *w, nil
		}
	}
	return model.Workspace{}, repository.ErrNotFound
}

func (f *fakeWorkspaces) FirstOwnedByUser(_ context.Context, userID uint64) (model.Workspace, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var best *model.Workspace
	for _, w := range f.db.workspaces {
		if w.OwnerID == userID && w.Status == model.WorkspaceActive {
			if best == nil || w.ID < best.ID {
				best = w
			}
		}
	}
	if best == nil {
		return model.Workspace{}, repository.ErrNotFound
	}
	return *best, nil
}

func (f *fakeWorkspaces) ListForUser(_ context.Context, userID uint64) ([]repository.WorkspaceWithRole, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []repository.WorkspaceWithRole
	for _, m := range f.db.members {
		if m.UserID != userID {
			continue
		}
		if w, ok := f.db.workspaces[m.WorkspaceID]; ok && w.Status == model.WorkspaceActive {
			out = append(out, repository.WorkspaceWithRole{Workspace: *w, Role: m.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeWorkspaces) Update(_ context.Context, id uint64, name string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	w, ok := f.db.workspaces[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.Name = name
	return nil
}

func (f *fakeWorkspaces) SoftDelete(_ context.Context, id uint64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	w, ok := f.db.workspaces[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	w.Status = model.WorkspaceDeleted
	w.DeletedAt = &now
	return nil
}

func (f *fakeWorkspaces) SetOwner(_ context.Context, id, ownerID uint64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	w, ok := f.db.workspaces[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.OwnerID = ownerID
	return nil
}

// ----- members -----

type fakeMembers struct{ db *memDB }

func (f *fakeMembers) Create(_ context.Context, m *model.WorkspaceMember) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, ex := range f.db.members {
		if ex.WorkspaceID == m.WorkspaceID && ex.UserID == m.UserID {
			return repository.ErrAlreadyMember
		}
	}
	m.ID = f.db.id()
	m.JoinedAt = time.Now().UTC()
	cp := *m
	f.db.members[m.ID] = &cp
	return nil
}

func (f *fakeMembers) Get(_ context.Context, workspaceID, userID uint64) (model.WorkspaceMember, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, m := range f.db.members {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			return *m, nil
		}
	}
	return model.WorkspaceMember{}, repository.ErrNotFound
}

func (f *fakeMembers) GetByID(_ context.Context, id uint64) (model.WorkspaceMember, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	m, ok := f.db.members[id]
	if !ok {
		return model.WorkspaceMember{}, repository.ErrNotFound
	}
	return *m, nil
}

func (f *fakeMembers) List(_ context.Context, workspaceID uint64) ([]repository.MemberWithUser, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []repository.MemberWithUser
	for _, m := range f.db.members {
		if m.WorkspaceID != workspaceID {
			continue
		}
		row := repository.MemberWithUser{WorkspaceMember: *m}
		if u, ok := f.db.users[m.UserID]; ok {
			row.Email = u.Email
			row.FullName = u.FullName
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMembers) ListForUser(_ context.Context, userID uint64) ([]repository.MembershipWithWorkspace, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []repository.MembershipWithWorkspace
	for _, m := range f.db.members {
		if m.UserID != userID {
			continue
		}
		if w, ok := f.db.workspaces[m.WorkspaceID]; ok && w.Status == model.WorkspaceActive {
			out = append(out, repository.MembershipWithWorkspace{
				WorkspaceID: w.ID, Name: w.Name, Slug: w.Slug, Plan: w.Plan, Role: m.Role,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out, nil
}

func (f *fakeMembers) UpdateRole(_ context.Context, id uint64, role model.Role) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	m, ok := f.db.members[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Role = role
	return nil
}

func (f *fakeMembers) UpdateRoleByUser(_ context.Context, workspaceID, userID uint64, role model.Role) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, m := range f.db.members {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			m.Role = role
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeMembers) Delete(_ context.Context, id uint64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.members[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.db.members, id)
	return nil
}

// ----- invitations -----

type fakeInvitations struct{ db *memDB }

func (f *fakeInvitations) Create(_ context.Context, inv *model.WorkspaceInvitation) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inv.ID = f.db.id()
	inv.Email = strings.ToLower(inv.Email)
	inv.CreatedAt = time.Now().UTC()
	cp := *inv
	f.db.invitations[inv.ID] = &cp
	return nil
}

func (f *fakeInvitations) GetByToken(_ context.Context, tok string) (model.WorkspaceInvitation, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, inv := range f.db.invitations {
		if tok != "" && inv.Token == tok {
			return *inv, nil
		}
	}
	return model.WorkspaceInvitation{}, repository.ErrNotFound
}

func (f *fakeInvitations) GetPending(_ context.Context, workspaceID, id uint64) (model.WorkspaceInvitation, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inv, ok := f.db.invitations[id]
	if !ok || inv.WorkspaceID != workspaceID || !inv.Pending(time.Now().UTC()) {
		return model.WorkspaceInvitation{}, repository.ErrNotFound
	}
	return *inv, nil
}

func (f *fakeInvitations) PendingExists(_ context.Context, workspaceID uint64, email string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	email = strings.ToLower(email)
	now := time.Now().UTC()
	for _, inv := range f.db.invitations {
		if inv.WorkspaceID == workspaceID && inv.Email == email && inv.Pending(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInvitations) MarkAccepted(_ context.Context, id uint64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inv, ok := f.db.invitations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.AcceptedAt == nil && inv.DeclinedAt == nil {
		now := time.Now().UTC()
		inv.AcceptedAt = &now
	}
	return nil
}

func (f *fakeInvitations) MarkDeclined(_ context.Context, id uint64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	inv, ok := f.db.invitations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.AcceptedAt == nil && inv.DeclinedAt == nil {
		now := time.Now().UTC()
		inv.DeclinedAt = &now
	}
	return nil
}

func (f *fakeInvitations) Delete(_ context.Context, id uint64) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.invitations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.db.invitations, id)
	return nil
}

func (f *fakeInvitations) ListPending(_ context.Context, workspaceID uint64) ([]repository.InvitationWithInviter, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []repository.InvitationWithInviter
	for _, inv := range f.db.invitations {
		if inv.WorkspaceID != workspaceID || inv.AcceptedAt != nil || inv.DeclinedAt != nil {
			continue
		}
		row := repository.InvitationWithInviter{WorkspaceInvitation: *inv}
		if u, ok := f.db.users[inv.InvitedBy]; ok {
			row.InviterName = u.FullName
			row.InviterEmail = u.Email
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ----- audit -----

type fakeAudit struct{ db *memDB }

func (f *fakeAudit) Insert(_ context.Context, rec *model.AuditLog) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rec.ID = f.db.id()
	rec.CreatedAt = time.Now().UTC()
	f.db.audits = append(f.db.audits, *rec)
	return nil
}

func (d *memDB) auditActions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.audits))
	for _, a := range d.audits {
		out = append(out, a.Action)
	}
	return out
}

func (d *memDB) activeSessions(userID uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, s := range d.sessions {
		if s.UserID == userID && s.Active(now) {
			n++
		}
	}
	return n
}
