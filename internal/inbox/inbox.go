// Package inbox builds the merged conversation list: direct and group
// conversations in one view, newest activity first, with previews, relative
// times and per-conversation unread/tagged counters.
package inbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/readstate"
	"github.com/google/uuid"
)

// PreviewLimit is the rune budget for last-message previews.
const PreviewLimit = 25

// TruncatePreview shortens a preview to PreviewLimit runes plus an ellipsis.
func TruncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLimit {
		return text
	}
	return string(runes[:PreviewLimit]) + "..."
}

// RelativeTime renders a last-activity timestamp as the inbox shows it.
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// CountsFunc supplies the derived counters for one conversation.
type CountsFunc func(conversationID string) readstate.Counts

// Build assembles the inbox for a user. Ordering: descending last activity,
// conversations that never had a message last, ties left in input order.
func Build(conversations []model.Conversation, userID uuid.UUID, counts CountsFunc, now time.Time) []model.InboxEntry {
	entries := make([]model.InboxEntry, 0, len(conversations))

	for i := range conversations {
		conv := &conversations[i]
		entry := model.InboxEntry{
			ConversationID: conv.ID,
			Kind:           conv.Kind,
			Name:           conv.Name,
			Avatar:         conv.Avatar,
			Preview:        preview(conv, userID),
		}
		if conv.Kind == model.ConversationKindDirect {
			if other := conv.OtherMember(userID); other != nil {
				entry.Name = other.User.Name
				entry.Avatar = other.User.Avatar
			}
		}
		if conv.LastMessageAt != nil {
			entry.LastActivity = RelativeTime(*conv.LastMessageAt, now)
			entry.LastActivityAt = conv.LastMessageAt.UnixMilli()
		}
		if counts != nil {
			c := counts(conv.ID)
			entry.UnreadCount = c.Unread
			entry.TaggedCount = c.Tagged
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].LastActivityAt, entries[j].LastActivityAt
		switch {
		case a == 0:
			return false
		case b == 0:
			return true
		default:
			return a > b
		}
	})
	return entries
}

// preview renders the denormalized last-message line. Group previews carry
// sender attribution, "You" for the user's own messages.
func preview(conv *model.Conversation, userID uuid.UUID) string {
	if conv.LastMessageText == "" {
		return ""
	}
	text := TruncatePreview(conv.LastMessageText)
	if conv.Kind != model.ConversationKindGroup || conv.LastMessageSenderID == nil {
		return text
	}
	if *conv.LastMessageSenderID == userID {
		return "You: " + text
	}
	for _, m := range conv.Members {
		if m.UserID == *conv.LastMessageSenderID {
			return m.User.Name + ": " + text
		}
	}
	return text
}
