package mention

import (
	"testing"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(name string) model.User {
	return model.User{ID: uuid.New(), Name: name}
}

func TestResolve(t *testing.T) {
	alice := member("Alice")
	bob := member("Bob")
	maryJane := member("Mary Jane")
	mary := member("Mary")

	tests := []struct {
		name   string
		text   string
		roster []model.User
		want   []model.Mention
	}{
		{
			name:   "simple mention",
			text:   "hey @Alice how are you",
			roster: []model.User{alice, bob},
			want:   []model.Mention{{Raw: "@Alice", UserID: alice.ID}},
		},
		{
			name:   "case insensitive",
			text:   "ping @alice",
			roster: []model.User{alice},
			want:   []model.Mention{{Raw: "@alice", UserID: alice.ID}},
		},
		{
			name:   "longest span wins over shorter name",
			text:   "ask @Mary Jane about it",
			roster: []model.User{mary, maryJane},
			want:   []model.Mention{{Raw: "@Mary Jane", UserID: maryJane.ID}},
		},
		{
			name:   "roster order breaks name ties",
			text:   "cc @Mary",
			roster: []model.User{mary, member("Mary")},
			want:   []model.Mention{{Raw: "@Mary", UserID: mary.ID}},
		},
		{
			name:   "unmatched token stays plain text",
			text:   "email me @ home or @nobody",
			roster: []model.User{alice},
			want:   []model.Mention{},
		},
		{
			name:   "multiple mentions",
			text:   "@Alice meet @Bob",
			roster: []model.User{alice, bob},
			want: []model.Mention{
				{Raw: "@Alice", UserID: alice.ID},
				{Raw: "@Bob", UserID: bob.ID},
			},
		},
		{
			name:   "empty text",
			text:   "",
			roster: []model.User{alice},
			want:   []model.Mention{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.text, tt.roster)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveConsumesMatchedSpan(t *testing.T) {
	maryJane := member("Mary Jane")
	jane := member("Jane")

	// "Jane" inside the consumed "@Mary Jane" span must not match again.
	got := Resolve("hi @Mary Jane", []model.User{maryJane, jane})
	require.Len(t, got, 1)
	assert.Equal(t, maryJane.ID, got[0].UserID)
}

func TestTaggedUsers(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	mentions := []model.Mention{{Raw: "@Alice", UserID: alice}}

	t.Run("mentions only", func(t *testing.T) {
		got := TaggedUsers(mentions, nil)
		assert.Equal(t, []uuid.UUID{alice}, got)
	})

	t.Run("reply inherits frozen set and author", func(t *testing.T) {
		replied := &model.Message{SenderID: bob, TaggedUsers: []uuid.UUID{carol}}
		got := TaggedUsers(mentions, replied)
		assert.Equal(t, []uuid.UUID{alice, carol, bob}, got)
	})

	t.Run("deduplicates", func(t *testing.T) {
		replied := &model.Message{SenderID: alice, TaggedUsers: []uuid.UUID{alice}}
		got := TaggedUsers(mentions, replied)
		assert.Equal(t, []uuid.UUID{alice}, got)
	})

	t.Run("no mentions no reply", func(t *testing.T) {
		got := TaggedUsers(nil, nil)
		assert.Empty(t, got)
	})
}
