package service

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Domain errors. Callers match them with errors.Is; wrapped causes carry the detail.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrBotProfileNotFound = errors.New("bot profile not found")
	ErrNotMember          = errors.New("user is not a member of this room")
	ErrRoomDisabled       = errors.New("room is not accepting messages")
	ErrInvalidBody        = errors.New("message body is empty or too long")
	ErrInvalidTarget      = errors.New("cannot open a room with yourself")
	ErrInvalidProfile     = errors.New("invalid bot profile")
	ErrStoreWrite         = errors.New("failed to store message")
	ErrBusUnavailable     = errors.New("fan-out bus unavailable")
	ErrUpstreamAI         = errors.New("ai completion failed")
)

// MaxBodyLength is the longest accepted message body, in characters
const MaxBodyLength = 4000

// NoMessagesPreview is shown for rooms without history
const NoMessagesPreview = "No messages yet"

func normalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > MaxBodyLength {
		return "", ErrInvalidBody
	}
	return body, nil
}
