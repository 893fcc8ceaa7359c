// Package service implements the per-session gateway logic: room
// membership, persist-then-broadcast and local fan-out.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-chat/internal/audit"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/health"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/validate"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// ChatService drives every session of this process.
type ChatService struct {
	hub       *hub.Hub
	directory *hub.Directory
	bus       RoomBus
	writer    MessageWriter
	health    HealthReporter
	maxLen    int
}

// NewChatService wires a directory over b whose room events are fanned out
// by Deliver. observer and reporter may be nil.
func NewChatService(h *hub.Hub, b RoomBus, writer MessageWriter, reporter HealthReporter, observer hub.RoomObserver, maxLen int) *ChatService {
	s := &ChatService{
		hub:    h,
		bus:    b,
		writer: writer,
		health: reporter,
		maxLen: maxLen,
	}
	s.directory = hub.NewDirectory(b, s.Deliver, observer)
	return s
}

func (s *ChatService) Directory() *hub.Directory {
	return s.directory
}

// HandleConnect registers an authenticated client and greets it.
func (s *ChatService) HandleConnect(ctx context.Context, c *hub.Client) {
	s.hub.Register(c)
	audit.Log(ctx, audit.ActionConnect, c.Session.UserID, "client connected")
	s.send(ctx, c, domain.NewSystemMessage(fmt.Sprintf("Connected as %s", c.Session.Handle)))
}

// HandleFrame processes one inbound frame. It is called by the client's
// dispatcher, so frames of a session never run concurrently.
func (s *ChatService) HandleFrame(ctx context.Context, c *hub.Client, frame []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(frame, &base); err != nil {
		s.send(ctx, c, domain.NewErrorMessage(domain.CodeBadRequest, "Invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			s.send(ctx, c, domain.NewFailureNotice(domain.CodeInvalidPayload, domain.NoticeInvalidRoom))
			return
		}
		s.HandleJoinRoom(ctx, c, msg.Room)

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			s.send(ctx, c, domain.NewFailureNotice(domain.CodeInvalidPayload, domain.NoticeInvalidRoom))
			return
		}
		s.HandleLeaveRoom(ctx, c, msg.Room)

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			s.send(ctx, c, domain.NewFailureNotice(domain.CodeInvalidPayload, domain.NoticeInvalidMessage))
			return
		}
		s.HandleSendMessage(ctx, c, msg.Room, msg.Content)

	case domain.MsgTypePing:
		s.send(ctx, c, &domain.PongMessage{Type: domain.MsgTypePong})

	default:
		s.send(ctx, c, domain.NewErrorMessage(domain.CodeBadRequest, "Unknown message type"))
	}
}

// HandleJoinRoom subscribes the session to room. Other local members are
// told about the first join only.
func (s *ChatService) HandleJoinRoom(ctx context.Context, c *hub.Client, rawRoom string) {
	room, err := validate.NormalizeRoom(rawRoom)
	if err != nil {
		s.send(ctx, c, domain.NewFailureNotice(domain.CodeInvalidPayload, domain.NoticeInvalidRoom))
		return
	}

	l := log.Ctx(ctx)
	added, err := s.directory.Join(ctx, c, room)
	if err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			return
		}
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("join failed")
		// A session torn down mid-join says nothing about the bus.
		if s.health != nil && ctx.Err() == nil && errors.Is(err, domain.ErrDeliveryFailure) {
			s.health.MarkDegraded(health.ComponentBus, err)
		}
		notice := domain.NewFailureNotice(domain.CodeDeliveryFailure, domain.NoticeJoinFailed)
		notice.Room = room
		s.send(ctx, c, notice)
		return
	}

	s.send(ctx, c, domain.NewRoomNotice(room, fmt.Sprintf("Joined room: %s", room)))
	if added {
		audit.LogRoom(ctx, audit.ActionJoinRoom, c.Session.UserID, room, "joined room")
		s.notifyOthers(ctx, c, room, fmt.Sprintf("%s joined %s", c.Session.Handle, room))
	}
}

// HandleLeaveRoom releases the session's membership of room.
func (s *ChatService) HandleLeaveRoom(ctx context.Context, c *hub.Client, rawRoom string) {
	room, err := validate.NormalizeRoom(rawRoom)
	if err != nil {
		s.send(ctx, c, domain.NewFailureNotice(domain.CodeInvalidPayload, domain.NoticeInvalidRoom))
		return
	}

	left, err := s.directory.Leave(ctx, c, room)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to release room subscription")
	}

	s.send(ctx, c, domain.NewRoomNotice(room, fmt.Sprintf("Left room: %s", room)))
	if left {
		audit.LogRoom(ctx, audit.ActionLeaveRoom, c.Session.UserID, room, "left room")
		s.notifyOthers(ctx, c, room, fmt.Sprintf("%s left %s", c.Session.Handle, room))
	}
}

// HandleSendMessage persists the message and then publishes it. The sender
// gets its own copy through the bus like every other member. Once started,
// persist and publish run to completion even if the client disconnects.
func (s *ChatService) HandleSendMessage(ctx context.Context, c *hub.Client, rawRoom, rawContent string) {
	room, roomErr := validate.NormalizeRoom(rawRoom)
	content, contentErr := validate.NormalizeMessage(rawContent, s.maxLen)
	if roomErr != nil || contentErr != nil {
		s.send(ctx, c, domain.NewFailureNotice(domain.CodeInvalidPayload, domain.NoticeInvalidMessage))
		return
	}

	l := log.Ctx(ctx)
	opCtx := context.WithoutCancel(ctx)
	sender := &domain.Identity{UserID: c.Session.UserID, Handle: c.Session.Handle}

	msg, err := s.writer.Persist(opCtx, room, sender, content)
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("persist message failed")
		notice := domain.NewFailureNotice(domain.CodePersistenceFailure, domain.NoticeSaveFailed)
		notice.Room = room
		s.send(ctx, c, notice)
		return
	}

	audit.LogRoom(ctx, audit.ActionSendMessage, c.Session.UserID, room, "message sent")

	if err := s.bus.Publish(opCtx, room, msg); err != nil {
		l.Error().Err(err).
			Str(log.FieldRoom, room).
			Str(log.FieldMessageID, msg.ID).
			Msg("publish failed, message persisted but not broadcast")
		if s.health != nil {
			s.health.MarkDegraded(health.ComponentBus, err)
		}
	}
}

// HandleDisconnect closes the session, releases every membership and
// unregisters the client. Remaining local members of each room are told.
func (s *ChatService) HandleDisconnect(ctx context.Context, c *hub.Client) {
	rooms := s.directory.LeaveAll(ctx, c)
	for _, room := range rooms {
		s.notifyOthers(ctx, c, room, fmt.Sprintf("%s left %s", c.Session.Handle, room))
	}
	s.hub.Unregister(c)

	audit.LogWithDetail(ctx, audit.ActionDisconnect, c.Session.UserID, fmt.Sprintf("rooms=%d", len(rooms)), "client disconnected")
}

// Deliver fans a bus event out to the local members of room. A member
// whose outbound queue is full misses the frame.
func (s *ChatService) Deliver(room string, msg *domain.Message) {
	members := s.directory.LocalMembers(room)
	if len(members) == 0 {
		return
	}

	l := log.L()
	data, err := json.Marshal(domain.NewChatMessageOut(msg))
	if err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to encode message")
		return
	}

	for _, c := range members {
		if !c.Enqueue(data) {
			l.Warn().
				Str(log.FieldRoom, room).
				Str(log.FieldSessionID, c.ID).
				Str(log.FieldMessageID, msg.ID).
				Msg("outbound queue full, message dropped")
		}
	}
}

// Shutdown stops every connected client.
func (s *ChatService) Shutdown() {
	s.hub.Shutdown()
}

func (s *ChatService) notifyOthers(ctx context.Context, from *hub.Client, room, text string) {
	data, err := json.Marshal(domain.NewRoomNotice(room, text))
	if err != nil {
		return
	}
	for _, c := range s.directory.LocalMembers(room) {
		if c == from || c.Session.IsClosed() {
			continue
		}
		if !c.Enqueue(data) {
			l := log.Ctx(ctx)
			l.Warn().Str(log.FieldRoom, room).Str(log.FieldSessionID, c.ID).Msg("outbound queue full, notice dropped")
		}
	}
}

// send delivers a private frame. Closed sessions get nothing.
func (s *ChatService) send(ctx context.Context, c *hub.Client, v interface{}) {
	if c.Session.IsClosed() {
		return
	}
	if err := c.SendMessage(v); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldSessionID, c.ID).Msg("failed to send frame")
	}
}
