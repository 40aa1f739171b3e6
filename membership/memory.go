package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type MemoryStore struct {
	mu      sync.RWMutex
	groups  map[ledger.GroupID]Group
	members map[ledger.GroupID]map[ledger.UserID]Member
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:  make(map[ledger.GroupID]Group),
		members: make(map[ledger.GroupID]map[ledger.UserID]Member),
	}
}

func (s *MemoryStore) CreateGroup(_ context.Context, group Group, creator Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[group.ID] = group
	s.members[group.ID] = map[ledger.UserID]Member{creator.UserID: creator}
	return nil
}

func (s *MemoryStore) GetGroup(_ context.Context, id ledger.GroupID) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return Group{}, ledger.ErrGroupNotFound
	}
	return g, nil
}

func (s *MemoryStore) FindGroupByInvite(_ context.Context, code string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if g.InviteCode == code {
			return g, nil
		}
	}
	return Group{}, ledger.ErrInviteCodeNotFound
}

func (s *MemoryStore) SetInviteCode(_ context.Context, id ledger.GroupID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return ledger.ErrGroupNotFound
	}
	g.InviteCode = code
	s.groups[id] = g
	return nil
}

func (s *MemoryStore) ListGroupsForUser(_ context.Context, userID ledger.UserID) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Group
	for id, members := range s.members {
		if _, ok := members[userID]; ok {
			result = append(result, s.groups[id])
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) GetMember(_ context.Context, groupID ledger.GroupID, userID ledger.UserID) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[groupID][userID]
	if !ok {
		return Member{}, ledger.ErrMemberNotFound
	}
	return m, nil
}

func (s *MemoryStore) SaveMember(_ context.Context, member Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[member.GroupID]; !ok {
		return ledger.ErrGroupNotFound
	}
	s.members[member.GroupID][member.UserID] = member
	return nil
}

func (s *MemoryStore) DeleteMember(_ context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[groupID][userID]; !ok {
		return ledger.ErrMemberNotFound
	}
	delete(s.members[groupID], userID)
	return nil
}

func (s *MemoryStore) ListMembers(_ context.Context, groupID ledger.GroupID) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Member, 0, len(s.members[groupID]))
	for _, m := range s.members[groupID] {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}
