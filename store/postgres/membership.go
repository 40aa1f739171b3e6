package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
)

// =============================================================================
// GROUPS
// =============================================================================

func (s *Store) CreateGroup(ctx context.Context, group membership.Group, creator membership.Member) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_groups (id, name, invite_code, created_at)
		VALUES ($1, $2, $3, $4)
	`, string(group.ID), group.Name, group.InviteCode, group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: group or invite code already exists", ledger.ErrInvalidRequest)
		}
		return fmt.Errorf("insert group: %w", err)
	}

	if err := saveMember(ctx, tx, creator); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetGroup(ctx context.Context, id ledger.GroupID) (membership.Group, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, invite_code, created_at FROM ledger_groups WHERE id = $1
	`, string(id))
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return membership.Group{}, ledger.ErrGroupNotFound
	}
	return g, err
}

func (s *Store) FindGroupByInvite(ctx context.Context, code string) (membership.Group, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, invite_code, created_at FROM ledger_groups WHERE invite_code = $1
	`, code)
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return membership.Group{}, ledger.ErrInviteCodeNotFound
	}
	return g, err
}

func (s *Store) SetInviteCode(ctx context.Context, id ledger.GroupID, code string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE ledger_groups SET invite_code = $1 WHERE id = $2`, code, string(id))
	if err != nil {
		return fmt.Errorf("update invite code: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ledger.ErrGroupNotFound
	}
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID ledger.UserID) ([]membership.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, g.invite_code, g.created_at
		FROM ledger_groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.name, g.id
	`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []membership.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanGroup(row pgx.Row) (membership.Group, error) {
	var (
		g  membership.Group
		id string
	)
	if err := row.Scan(&id, &g.Name, &g.InviteCode, &g.CreatedAt); err != nil {
		return membership.Group{}, err
	}
	g.ID = ledger.GroupID(id)
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) GetMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (membership.Member, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT group_id, user_id, role, joined_at
		FROM group_members
		WHERE group_id = $1 AND user_id = $2
	`, string(groupID), string(userID))
	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return membership.Member{}, ledger.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) SaveMember(ctx context.Context, member membership.Member) error {
	return saveMember(ctx, s.pool, member)
}

func saveMember(ctx context.Context, db querier, m membership.Member) error {
	_, err := db.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, string(m.GroupID), string(m.UserID), string(m.Role), m.JoinedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ledger.ErrGroupNotFound
		}
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND user_id = $2
	`, string(groupID), string(userID))
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ledger.ErrMemberNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, groupID ledger.GroupID) ([]membership.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, user_id, role, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY user_id
	`, string(groupID))
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := []membership.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanMember(row pgx.Row) (membership.Member, error) {
	var (
		m                     membership.Member
		groupID, userID, role string
	)
	if err := row.Scan(&groupID, &userID, &role, &m.JoinedAt); err != nil {
		return membership.Member{}, err
	}
	m.GroupID = ledger.GroupID(groupID)
	m.UserID = ledger.UserID(userID)
	m.Role = membership.Role(role)
	m.JoinedAt = m.JoinedAt.UTC()
	return m, nil
}
