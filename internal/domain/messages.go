package domain

// WebSocket message types from client.
const (
	MsgTypeJoinRoom    = "join_room"
	MsgTypeLeaveRoom   = "leave_room"
	MsgTypeSendMessage = "send_message"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeSystem  = "system"
	MsgTypeMessage = "message"
	MsgTypePong    = "pong"
	MsgTypeError   = "error"
)

// Notice codes attached to system and error frames.
const (
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodePersistenceFailure = "PERSISTENCE_FAILURE"
	CodeDeliveryFailure    = "DELIVERY_FAILURE"
	CodeBadRequest         = "BAD_REQUEST"
)

// Notice texts.
const (
	NoticeInvalidRoom    = "Invalid room name."
	NoticeInvalidMessage = "Invalid message payload."
	NoticeSaveFailed     = "Failed to save message."
	NoticeJoinFailed     = "Failed to join room."
)

// BaseMessage carries the type discriminator of every frame.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type LeaveRoomMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type SendMessageMessage struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Content string `json:"content"`
}

// Server -> Client messages

type SystemMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSystemMessage(message string) *SystemMessage {
	return &SystemMessage{Type: MsgTypeSystem, Message: message}
}

// NewRoomNotice is a system frame about a room.
func NewRoomNotice(room, message string) *SystemMessage {
	return &SystemMessage{Type: MsgTypeSystem, Message: message, Room: room}
}

// NewFailureNotice is a system frame reporting a rejected event.
func NewFailureNotice(code, message string) *SystemMessage {
	return &SystemMessage{Type: MsgTypeSystem, Message: message, Code: code}
}

type ChatMessageOut struct {
	Type string `json:"type"`
	MessageView
}

func NewChatMessageOut(m *Message) *ChatMessageOut {
	return &ChatMessageOut{Type: MsgTypeMessage, MessageView: m.View()}
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
