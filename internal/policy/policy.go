// Package policy holds the permission rules for message edits and deletions.
// The rules are pure: callers supply the message, the acting user and the
// conversation, and get a typed verdict back.
package policy

import (
	"errors"
	"time"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
)

// EditWindow is how long after the server timestamp a message stays editable.
const EditWindow = 10 * time.Minute

var (
	ErrNotAuthor    = errors.New("only the author may do this")
	ErrEditExpired  = errors.New("edit window has passed")
	ErrNotPermitted = errors.New("not permitted")
	ErrNotMember    = errors.New("not a conversation member")
	ErrEmptyEdit    = errors.New("edited text must not be empty")
	ErrNotEditable  = errors.New("only text messages can be edited")
)

// CanEdit decides whether the user may apply an edit to the message at the
// given time. Author only, text present, and strictly within the window
// measured against the message's server timestamp.
func CanEdit(msg *model.Message, userID uuid.UUID, text string, now time.Time) error {
	if msg.SenderID != userID {
		return ErrNotAuthor
	}
	if msg.Text == "" {
		return ErrNotEditable
	}
	if text == "" {
		return ErrEmptyEdit
	}
	if now.Sub(msg.CreatedAt) > EditWindow {
		return ErrEditExpired
	}
	return nil
}

// CanDeleteForEveryone decides whether the user may hard-delete the message
// for all members: the author always, or any conversation admin.
func CanDeleteForEveryone(msg *model.Message, conv *model.Conversation, userID uuid.UUID) error {
	if msg.SenderID == userID {
		return nil
	}
	if conv.IsAdmin(userID) {
		return nil
	}
	return ErrNotPermitted
}

// CanDeleteForMe decides whether the user may hide the message for
// themselves: any member of the conversation.
func CanDeleteForMe(conv *model.Conversation, userID uuid.UUID) error {
	if !conv.IsMember(userID) {
		return ErrNotMember
	}
	return nil
}
