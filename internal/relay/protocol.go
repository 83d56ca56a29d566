package relay

// Frame types on the wire.
const (
	FrameChat       = "chat"
	FrameMemberList = "memberList"
)

// inboundFrame is the only shape clients send:
//
//	{"type": "chat", "text": "..."}
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatEvent is broadcast to every member of RoomID. It is never stored by the relay.
type ChatEvent struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	SenderID         string `json:"senderId"`
	SenderName       string `json:"senderName"`
	Timestamp        int64  `json:"timestamp"` // epoch ms
	RoomID           string `json:"roomId"`
	IsModerated      bool   `json:"isModerated,omitempty"`
	ModerationAction string `json:"moderationAction,omitempty"`
}

// MemberInfo is one roster entry.
type MemberInfo struct {
	ID        string `json:"id"`
	Pseudonym string `json:"pseudonym"`
}

// MemberList is the membership snapshot sent on every join and leave.
type MemberList struct {
	Type    string       `json:"type"`
	Members []MemberInfo `json:"members"`
}

func newMemberList(members []MemberInfo) MemberList {
	if members == nil {
		members = []MemberInfo{}
	}
	return MemberList{Type: FrameMemberList, Members: members}
}
