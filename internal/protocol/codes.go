package protocol

// CloseCode is a websocket close status code. Application-defined codes live
// in the 4000-4999 range reserved for private use.
type CloseCode int

const (
	// CloseNormal is the standard close code used when a peer leaves voluntarily.
	CloseNormal CloseCode = 1000

	// CloseInvalidPayload rejects an EnterRoom with a malformed payload.
	CloseInvalidPayload CloseCode = 4000
	// CloseRoomNotFound rejects an EnterRoom naming an unknown room.
	CloseRoomNotFound CloseCode = 4001
	// CloseNicknameInUse rejects an EnterRoom whose nickname is already taken
	// in the target room.
	CloseNicknameInUse CloseCode = 4002
	// CloseOther covers connection-fatal failures with no more specific code.
	CloseOther CloseCode = 4003
)

// String returns the code name for logging.
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "NormalClosure"
	case CloseInvalidPayload:
		return "InvalidPayload"
	case CloseRoomNotFound:
		return "RoomNotFound"
	case CloseNicknameInUse:
		return "NicknameInUse"
	case CloseOther:
		return "Other"
	default:
		return "Unknown"
	}
}
