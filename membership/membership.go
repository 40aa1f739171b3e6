/*
Package membership is the Group Membership Authority: who belongs to a
group and who administers it.

PURPOSE:
  The ledger core never decides membership itself. Before it mutates a
  group's balances it asks an Authority whether the payer, participants and
  requester are members, and whether the requester is an admin.

KEY CONCEPTS:
  - Group: a named set of members with an invite code
  - Member: (group, user, role); role is ADMIN or MEMBER
  - Authority: the read-only view the ledger core consumes
  - Directory: Authority plus group management (create, join, roles, ...)

SOLE-ADMIN RULE:
  A group always keeps at least one admin. Demoting, removing or leaving as
  the only admin fails with ledger.ErrSoleAdmin.

SEE ALSO:
  - directory.go: management operations
  - memory.go: in-memory Store
  - store/sqlite, store/postgres: persistent Stores
*/
package membership

import (
	"context"
	"time"

	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// TYPES
// =============================================================================

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

type Group struct {
	ID         ledger.GroupID
	Name       string
	InviteCode string
	CreatedAt  time.Time
}

type Member struct {
	GroupID  ledger.GroupID
	UserID   ledger.UserID
	Role     Role
	JoinedAt time.Time
}

// =============================================================================
// INTERFACES
// =============================================================================

// Authority answers membership questions for the ledger core.
// All methods return ledger.ErrGroupNotFound for an unknown group.
type Authority interface {
	IsMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (bool, error)
	IsAdmin(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (bool, error)
	// ListMemberIDs returns member user IDs in ascending order.
	ListMemberIDs(ctx context.Context, groupID ledger.GroupID) ([]ledger.UserID, error)
}

// Store persists groups and members.
type Store interface {
	// CreateGroup inserts a group together with its first member.
	CreateGroup(ctx context.Context, group Group, creator Member) error
	GetGroup(ctx context.Context, id ledger.GroupID) (Group, error)
	// FindGroupByInvite returns ledger.ErrInviteCodeNotFound if no group uses code.
	FindGroupByInvite(ctx context.Context, code string) (Group, error)
	SetInviteCode(ctx context.Context, id ledger.GroupID, code string) error
	// ListGroupsForUser returns the groups userID belongs to, by name.
	ListGroupsForUser(ctx context.Context, userID ledger.UserID) ([]Group, error)

	// GetMember returns ledger.ErrMemberNotFound if userID is not in the group.
	GetMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (Member, error)
	// SaveMember inserts or updates a member row.
	SaveMember(ctx context.Context, member Member) error
	DeleteMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error
	// ListMembers returns a group's members ordered by user ID.
	ListMembers(ctx context.Context, groupID ledger.GroupID) ([]Member, error)
}

func adminCount(members []Member) int {
	n := 0
	for _, m := range members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}
