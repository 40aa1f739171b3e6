package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
)

// =============================================================================
// GROUPS
// =============================================================================

func (s *Store) CreateGroup(ctx context.Context, group membership.Group, creator membership.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_groups (id, name, invite_code, created_at)
		VALUES (?, ?, ?, ?)
	`, string(group.ID), group.Name, group.InviteCode, formatTime(group.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: group or invite code already exists", ledger.ErrInvalidRequest)
		}
		return fmt.Errorf("insert group: %w", err)
	}

	if err := saveMember(ctx, tx, creator); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetGroup(ctx context.Context, id ledger.GroupID) (membership.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, invite_code, created_at FROM ledger_groups WHERE id = ?
	`, string(id))
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Group{}, ledger.ErrGroupNotFound
	}
	return g, err
}

func (s *Store) FindGroupByInvite(ctx context.Context, code string) (membership.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, invite_code, created_at FROM ledger_groups WHERE invite_code = ?
	`, code)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Group{}, ledger.ErrInviteCodeNotFound
	}
	return g, err
}

func (s *Store) SetInviteCode(ctx context.Context, id ledger.GroupID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE ledger_groups SET invite_code = ? WHERE id = ?`, code, string(id))
	if err != nil {
		return fmt.Errorf("update invite code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrGroupNotFound
	}
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID ledger.UserID) ([]membership.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.invite_code, g.created_at
		FROM ledger_groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
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

func scanGroup(row interface{ Scan(...any) error }) (membership.Group, error) {
	var (
		g             membership.Group
		id, createdAt string
	)
	if err := row.Scan(&id, &g.Name, &g.InviteCode, &createdAt); err != nil {
		return membership.Group{}, err
	}
	at, err := parseTime(createdAt)
	if err != nil {
		return membership.Group{}, err
	}
	g.ID = ledger.GroupID(id)
	g.CreatedAt = at
	return g, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) GetMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT group_id, user_id, role, joined_at
		FROM group_members
		WHERE group_id = ? AND user_id = ?
	`, string(groupID), string(userID))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Member{}, ledger.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) SaveMember(ctx context.Context, member membership.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveMember(ctx, s.db, member)
}

func saveMember(ctx context.Context, db querier, m membership.Member) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = excluded.role
	`, string(m.GroupID), string(m.UserID), string(m.Role), formatTime(m.JoinedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.ErrGroupNotFound
		}
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?
	`, string(groupID), string(userID))
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrMemberNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, groupID ledger.GroupID) ([]membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, user_id, role, joined_at
		FROM group_members
		WHERE group_id = ?
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

func scanMember(row interface{ Scan(...any) error }) (membership.Member, error) {
	var groupID, userID, role, joinedAt string
	if err := row.Scan(&groupID, &userID, &role, &joinedAt); err != nil {
		return membership.Member{}, err
	}
	at, err := parseTime(joinedAt)
	if err != nil {
		return membership.Member{}, err
	}
	return membership.Member{
		GroupID:  ledger.GroupID(groupID),
		UserID:   ledger.UserID(userID),
		Role:     membership.Role(role),
		JoinedAt: at,
	}, nil
}
