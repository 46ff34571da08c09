package domain

import (
	"errors"
	"fmt"
)

type RoomName string

var ErrUnknownRoom = errors.New("unknown room")

// DefaultRooms is the room set used when configuration does not name one.
var DefaultRooms = []RoomName{"work", "school"}

type Room struct {
	Name RoomName
}

// RoomSet is the fixed, closed set of rooms a board serves.
// It is built once at startup and never changes afterwards.
type RoomSet struct {
	names []RoomName
	index map[RoomName]struct{}
}

func NewRoomSet(names ...RoomName) (RoomSet, error) {
	if len(names) == 0 {
		return RoomSet{}, errors.New("room set is empty")
	}
	set := RoomSet{
		names: make([]RoomName, 0, len(names)),
		index: make(map[RoomName]struct{}, len(names)),
	}
	for _, n := range names {
		if n == "" {
			return RoomSet{}, errors.New("room name is empty")
		}
		if _, dup := set.index[n]; dup {
			return RoomSet{}, fmt.Errorf("duplicate room %q", n)
		}
		set.index[n] = struct{}{}
		set.names = append(set.names, n)
	}
	return set, nil
}

// Lookup resolves a raw room selector against the set.
func (s RoomSet) Lookup(raw string) (RoomName, error) {
	name := RoomName(raw)
	if !s.Contains(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoom, raw)
	}
	return name, nil
}

func (s RoomSet) Contains(name RoomName) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the rooms in configuration order.
func (s RoomSet) Names() []RoomName {
	out := make([]RoomName, len(s.names))
	copy(out, s.names)
	return out
}
