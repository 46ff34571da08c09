package domain

// Member represents one live connection's participation in a room.
// Both fields are fixed for the lifetime of the connection.
// No transport or lifecycle logic here.
type Member struct {
	Username string
	Room     RoomName
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(username string, room RoomName) *Member {
	return &Member{Username: username, Room: room}
}
