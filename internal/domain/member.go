package domain

import "time"

// Profile is the decorative identity shown to other members of a room.
type Profile struct {
	Name    string `json:"name" msgpack:"name"`
	Icon    string `json:"icon" msgpack:"icon"`
	Device  string `json:"device,omitempty" msgpack:"device,omitempty"`
	Browser string `json:"browser,omitempty" msgpack:"browser,omitempty"`
}

// Member is a connected client. Its ID is the transport connection id and
// never changes while the connection lives.
type Member struct {
	ID       string    `json:"id" msgpack:"id"`
	Name     string    `json:"name" msgpack:"name"`
	Icon     string    `json:"icon" msgpack:"icon"`
	Device   string    `json:"device,omitempty" msgpack:"device,omitempty"`
	Browser  string    `json:"browser,omitempty" msgpack:"browser,omitempty"`
	JoinedAt time.Time `json:"joinedAt" msgpack:"joinedAt"`
}

func NewMember(id string, profile Profile) Member {
	return Member{
		ID:       id,
		Name:     profile.Name,
		Icon:     profile.Icon,
		Device:   profile.Device,
		Browser:  profile.Browser,
		JoinedAt: time.Now().UTC(),
	}
}

func MemberIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
