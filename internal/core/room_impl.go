package core

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Board/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// AddMember reports false if the session is already a member.
func (r *roomImpl) AddMember(ms MemberSession) bool {
	sid := ms.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; ok {
		return false
	}
	r.bySID[sid] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("sid", string(sid)).Str("user", ms.Meta().Username).Msg("member added")
	return true
}

// RemoveMember is idempotent; it reports whether sid was present.
func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("sid", string(sid)).Msg("member removed")
	return true
}

// Broadcast offers data to every member, the originator included.
// Members whose send fails are removed before the lock is released.
func (r *roomImpl) Broadcast(data Frame) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			delete(r.bySID, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Drain() []MemberSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemberSession, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		out = append(out, ms)
		delete(r.bySID, sid)
	}
	return out
}

// MembersSnapshot lists the members ordered by username.
func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		out = append(out, MemberDTO{SessionID: sid, Username: ms.Meta().Username})
	}
	slices.SortFunc(out, func(a, b MemberDTO) int {
		return cmp.Or(cmp.Compare(a.Username, b.Username), cmp.Compare(a.SessionID, b.SessionID))
	})
	return out
}
