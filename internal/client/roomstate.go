package client

// roomPhase is the session-local membership lifecycle for a room:
// idle -> joining -> joined -> leaving -> idle. Membership is not
// durable; a new connection starts every room over from joining.
type roomPhase int

const (
	roomIdle roomPhase = iota
	roomJoining
	roomJoined
	roomLeaving
)

func (p roomPhase) String() string {
	switch p {
	case roomJoining:
		return "joining"
	case roomJoined:
		return "joined"
	case roomLeaving:
		return "leaving"
	default:
		return "idle"
	}
}

type roomState struct {
	phase roomPhase
}
