package app

import (
	"fmt"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Registry is the set of live connections per room.
// Rooms are created once from the configured set; each room serializes its
// own Register, Deregister and Broadcast, so rooms never contend.
type Registry struct {
	order  []domain.RoomName
	rooms  map[domain.RoomName]core.RoomService
	policy Policy
}

func NewRegistry(set domain.RoomSet, policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	names := set.Names()
	rooms := make(map[domain.RoomName]core.RoomService, len(names))
	for _, name := range names {
		rooms[name] = core.NewRoomService(&domain.Room{Name: name})
		metrics.Members.WithLabelValues(string(name)).Set(0)
	}
	return &Registry{order: names, rooms: rooms, policy: policy}
}

func (r *Registry) room(name domain.RoomName) (core.RoomService, error) {
	room, ok := r.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRoom, name)
	}
	return room, nil
}

// Register adds ms to its room. Registering the same session twice is a no-op.
func (r *Registry) Register(ms core.MemberSession) error {
	name := ms.Meta().Room
	room, err := r.room(name)
	if err != nil {
		return err
	}
	if room.AddMember(ms) {
		metrics.Members.WithLabelValues(string(name)).Set(float64(room.MemberCount()))
	}
	return nil
}

// Deregister removes sid from room. Unknown rooms and absent sessions are ignored.
func (r *Registry) Deregister(name domain.RoomName, sid core.SessionID) {
	room, err := r.room(name)
	if err != nil {
		return
	}
	if room.RemoveMember(sid) {
		metrics.Members.WithLabelValues(string(name)).Set(float64(room.MemberCount()))
	}
}

// Broadcast delivers data to every member of the room. Members whose send
// fails are removed as part of the same operation and handed to the policy.
func (r *Registry) Broadcast(name domain.RoomName, data core.Frame) core.PublishResult {
	room, err := r.room(name)
	if err != nil {
		return core.PublishResult{}
	}
	res := room.Broadcast(data)
	metrics.Broadcasts.WithLabelValues(string(name)).Inc()
	if len(res.Dropped) == 0 {
		return res
	}

	metrics.Pruned.WithLabelValues(string(name)).Add(float64(len(res.Dropped)))
	metrics.Members.WithLabelValues(string(name)).Set(float64(room.MemberCount()))
	for _, slow := range res.Dropped {
		log.Warn().Str("module", "app.registry").Str("room", string(name)).Str("sid", string(slow.ID())).Str("user", slow.Meta().Username).Msg("delivery failed, member pruned")
		switch r.policy.OnBackPressure(room, slow) {
		case KickMember:
			slow.Signal().Close()
		case NoAction:
		}
	}
	return res
}

// List reports the rooms in configured order with who is connected to each.
func (r *Registry) List() []core.RoomInfo {
	return lo.Map(r.order, func(name domain.RoomName, _ int) core.RoomInfo {
		room := r.rooms[name]
		members := room.MembersSnapshot()
		return core.RoomInfo{Name: room.Room().Name, MemberCount: len(members), Members: members}
	})
}

// CloseAll empties every room and closes the members' transports.
func (r *Registry) CloseAll() {
	for _, name := range r.order {
		room := r.rooms[name]
		members := room.Drain()
		for _, ms := range members {
			ms.Signal().Close()
		}
		metrics.Members.WithLabelValues(string(name)).Set(0)
		log.Info().Str("module", "app.registry").Str("room", string(name)).Int("closed", len(members)).Msg("room drained")
	}
}
