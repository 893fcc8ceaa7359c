package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for the chat gateway.
const (
	// ChannelRoom carries every event of one chat room.
	ChannelRoom = "chat:room:%s"

	channelRoomPrefix = "chat:room:"
)

// Event types carried on room channels.
const (
	EventMessageCreated = "message_created"
)

// RoomChannel returns the channel name for a room.
func RoomChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoom, roomID)
}

// RoomFromChannel extracts the room from a channel built by RoomChannel.
func RoomFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelRoomPrefix) {
		return "", false
	}
	room := strings.TrimPrefix(channel, channelRoomPrefix)
	return room, room != ""
}
