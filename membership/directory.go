package membership

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/group-ledger/ledger"
)

// inviteCodeBytes gives 16 hex characters.
const inviteCodeBytes = 8

// Directory is the store-backed Authority with group management on top.
type Directory struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	// mu serializes management writes so the sole-admin check and the
	// write it guards are not interleaved within one process.
	mu sync.Mutex
}

type DirectoryOption func(*Directory)

func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) { d.now = now }
}

func WithLogger(logger *slog.Logger) DirectoryOption {
	return func(d *Directory) { d.logger = logger }
}

func NewDirectory(store Store, opts ...DirectoryOption) *Directory {
	d := &Directory{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// =============================================================================
// AUTHORITY
// =============================================================================

func (d *Directory) IsMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (bool, error) {
	_, err := d.member(ctx, groupID, userID)
	if errors.Is(err, ledger.ErrMemberNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Directory) IsAdmin(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (bool, error) {
	m, err := d.member(ctx, groupID, userID)
	if errors.Is(err, ledger.ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Role == RoleAdmin, nil
}

func (d *Directory) ListMemberIDs(ctx context.Context, groupID ledger.GroupID) ([]ledger.UserID, error) {
	members, err := d.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]ledger.UserID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	ledger.SortUserIDs(ids)
	return ids, nil
}

// member checks the group exists before looking the member up, so an
// unknown group is reported as ErrGroupNotFound.
func (d *Directory) member(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (Member, error) {
	if _, err := d.store.GetGroup(ctx, groupID); err != nil {
		return Member{}, err
	}
	return d.store.GetMember(ctx, groupID, userID)
}

// =============================================================================
// QUERIES
// =============================================================================

func (d *Directory) Group(ctx context.Context, groupID ledger.GroupID) (Group, error) {
	return d.store.GetGroup(ctx, groupID)
}

func (d *Directory) Members(ctx context.Context, groupID ledger.GroupID) ([]Member, error) {
	if _, err := d.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return d.store.ListMembers(ctx, groupID)
}

func (d *Directory) GroupsFor(ctx context.Context, userID ledger.UserID) ([]Group, error) {
	return d.store.ListGroupsForUser(ctx, userID)
}

// =============================================================================
// MANAGEMENT
// =============================================================================

// CreateGroup creates a group with creator as its first admin.
func (d *Directory) CreateGroup(ctx context.Context, creator ledger.UserID, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, fmt.Errorf("%w: group name is required", ledger.ErrInvalidRequest)
	}
	if creator == "" {
		return Group{}, fmt.Errorf("%w: creator is required", ledger.ErrInvalidRequest)
	}
	code, err := newInviteCode()
	if err != nil {
		return Group{}, err
	}

	now := d.now()
	group := Group{
		ID:         ledger.GroupID(uuid.NewString()),
		Name:       name,
		InviteCode: code,
		CreatedAt:  now,
	}
	admin := Member{GroupID: group.ID, UserID: creator, Role: RoleAdmin, JoinedAt: now}
	if err := d.store.CreateGroup(ctx, group, admin); err != nil {
		return Group{}, fmt.Errorf("create group: %w", err)
	}

	d.logger.Info("group created", "group_id", group.ID, "user_id", creator)
	return group, nil
}

// Join adds userID to the group holding inviteCode as a MEMBER.
func (d *Directory) Join(ctx context.Context, userID ledger.UserID, inviteCode string) (Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, err := d.store.FindGroupByInvite(ctx, strings.TrimSpace(inviteCode))
	if err != nil {
		return Group{}, err
	}
	_, err = d.store.GetMember(ctx, group.ID, userID)
	if err == nil {
		return Group{}, ledger.ErrAlreadyMember
	}
	if !errors.Is(err, ledger.ErrMemberNotFound) {
		return Group{}, err
	}

	m := Member{GroupID: group.ID, UserID: userID, Role: RoleMember, JoinedAt: d.now()}
	if err := d.store.SaveMember(ctx, m); err != nil {
		return Group{}, fmt.Errorf("save member: %w", err)
	}

	d.logger.Info("member joined", "group_id", group.ID, "user_id", userID)
	return group, nil
}

// UpdateRole changes target's role. Only admins may do this.
func (d *Directory) UpdateRole(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID, target ledger.UserID, role Role) (Member, error) {
	if !role.Valid() {
		return Member{}, fmt.Errorf("%w: unknown role %q", ledger.ErrInvalidRequest, role)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireAdmin(ctx, groupID, requester); err != nil {
		return Member{}, err
	}
	m, err := d.store.GetMember(ctx, groupID, target)
	if err != nil {
		return Member{}, err
	}
	if m.Role == RoleAdmin && role == RoleMember {
		if err := d.checkNotSoleAdmin(ctx, groupID); err != nil {
			return Member{}, err
		}
	}

	m.Role = role
	if err := d.store.SaveMember(ctx, m); err != nil {
		return Member{}, fmt.Errorf("save member: %w", err)
	}

	d.logger.Info("member role updated", "group_id", groupID, "user_id", target, "role", role)
	return m, nil
}

// RemoveMember removes target from the group. Only admins may do this.
// The member's balance row is kept so the group's ledger stays balanced.
func (d *Directory) RemoveMember(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID, target ledger.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireAdmin(ctx, groupID, requester); err != nil {
		return err
	}
	m, err := d.store.GetMember(ctx, groupID, target)
	if err != nil {
		return err
	}
	if m.Role == RoleAdmin {
		if err := d.checkNotSoleAdmin(ctx, groupID); err != nil {
			return err
		}
	}
	if err := d.store.DeleteMember(ctx, groupID, target); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}

	d.logger.Info("member removed", "group_id", groupID, "user_id", target, "by", requester)
	return nil
}

// Leave removes userID from the group on their own behalf.
func (d *Directory) Leave(ctx context.Context, userID ledger.UserID, groupID ledger.GroupID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.member(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if m.Role == RoleAdmin {
		if err := d.checkNotSoleAdmin(ctx, groupID); err != nil {
			return err
		}
	}
	if err := d.store.DeleteMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}

	d.logger.Info("member left", "group_id", groupID, "user_id", userID)
	return nil
}

// RegenerateInviteCode replaces the group's invite code. Only admins may do this.
func (d *Directory) RegenerateInviteCode(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID) (string, error) {
	if err := d.requireAdmin(ctx, groupID, requester); err != nil {
		return "", err
	}
	code, err := newInviteCode()
	if err != nil {
		return "", err
	}
	if err := d.store.SetInviteCode(ctx, groupID, code); err != nil {
		return "", fmt.Errorf("set invite code: %w", err)
	}
	return code, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (d *Directory) requireAdmin(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	ok, err := d.IsAdmin(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNotAdmin
	}
	return nil
}

func (d *Directory) checkNotSoleAdmin(ctx context.Context, groupID ledger.GroupID) error {
	members, err := d.store.ListMembers(ctx, groupID)
	if err != nil {
		return err
	}
	if adminCount(members) <= 1 {
		return ledger.ErrSoleAdmin
	}
	return nil
}

func newInviteCode() (string, error) {
	b := make([]byte, inviteCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
