// Package mention resolves @-tokens against a conversation roster. Resolution
// happens exactly once, at send time; the resolved pairs are frozen on the
// message and never re-resolved against later roster or display-name changes.
package mention

import (
	"strings"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
)

// Resolve scans the text for @-tokens and matches each against member display
// names, case-insensitively. At every '@' the longest contiguous span of
// whitespace-separated tokens equal to a member's name wins; among members
// with identical names, roster order decides. Unmatched tokens resolve to
// nothing and stay plain text.
func Resolve(text string, roster []model.User) []model.Mention {
	fields := strings.Fields(text)
	mentions := []model.Mention{}

	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if !strings.HasPrefix(tok, "@") || len(tok) == 1 {
			continue
		}

		matched := false
		// Longest span first, so "@Mary Jane" prefers the member named
		// "Mary Jane" over one named "Mary".
		for span := len(fields) - i; span >= 1 && !matched; span-- {
			candidate := strings.TrimPrefix(strings.Join(fields[i:i+span], " "), "@")
			for _, member := range roster {
				if strings.EqualFold(candidate, member.Name) {
					mentions = append(mentions, model.Mention{
						Raw:    "@" + candidate,
						UserID: member.ID,
					})
					i += span - 1
					matched = true
					break
				}
			}
		}
	}

	return mentions
}

// TaggedUsers derives the frozen tagged set for a new message: explicitly
// mentioned users, plus, when replying, the replied-to message's own frozen
// tagged set and its author. Inheritance is one level deep because the
// inherited set was itself frozen the same way.
func TaggedUsers(mentions []model.Mention, replyTo *model.Message) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	tagged := []uuid.UUID{}

	add := func(id uuid.UUID) {
		if id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		tagged = append(tagged, id)
	}

	for _, m := range mentions {
		add(m.UserID)
	}
	if replyTo != nil {
		for _, id := range replyTo.TaggedUsers {
			add(id)
		}
		add(replyTo.SenderID)
	}

	return tagged
}
