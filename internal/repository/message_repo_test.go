package repository

import (
	"testing"
	"time"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.UserDevice{},
		&model.Conversation{},
		&model.ConversationMember{},
		&model.Message{},
		&model.ReadReceipt{},
		&model.MessageDeletion{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) model.User {
	t.Helper()
	user := model.User{Name: name, Email: name + "@test.local"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedConversation(t *testing.T, db *gorm.DB, kind model.ConversationKind, users ...model.User) model.Conversation {
	t.Helper()
	conv := model.Conversation{Kind: kind}
	if kind == model.ConversationKindDirect && len(users) == 2 {
		conv.ID = model.DirectConversationID(users[0].ID, users[1].ID)
	}
	require.NoError(t, db.Create(&conv).Error)
	for _, u := range users {
		require.NoError(t, db.Create(&model.ConversationMember{
			ConversationID: conv.ID,
			UserID:         u.ID,
		}).Error)
	}
	return conv
}

func TestMessageLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	conv := seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	msg := model.Message{
		ConversationID: conv.ID,
		SenderID:       alice.ID,
		ClientSeq:      1,
		Text:           "hello bob",
	}
	require.NoError(t, repo.Create(&msg))
	require.NotEqual(t, uuid.Nil, msg.ID)

	found, err := repo.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", found.Text)
	assert.Equal(t, "alice", found.Sender.Name)
	assert.Empty(t, found.ReadBy)

	require.NoError(t, repo.UpdateText(msg.ID, "hello there bob"))
	found, err = repo.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there bob", found.Text)
	assert.True(t, found.Edited)

	require.NoError(t, repo.Delete(msg.ID))
	_, err = repo.FindByID(msg.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGetConversationMessagesOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	conv := seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	second := model.Message{ConversationID: conv.ID, SenderID: alice.ID, Text: "second", CreatedAt: base.Add(time.Second)}
	first := model.Message{ConversationID: conv.ID, SenderID: bob.ID, Text: "first", CreatedAt: base}
	require.NoError(t, repo.Create(&second))
	require.NoError(t, repo.Create(&first))

	messages, err := repo.GetConversationMessages(conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	conv := seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	m1 := model.Message{ConversationID: conv.ID, SenderID: alice.ID, Text: "one"}
	m2 := model.Message{ConversationID: conv.ID, SenderID: alice.ID, Text: "two"}
	require.NoError(t, repo.Create(&m1))
	require.NoError(t, repo.Create(&m2))

	ids := []uuid.UUID{m1.ID, m2.ID}
	require.NoError(t, repo.MarkRead(ids, bob.ID))
	// Re-marking already-read messages is a no-op, not an error.
	require.NoError(t, repo.MarkRead(ids, bob.ID))

	messages, err := repo.GetConversationMessages(conv.ID)
	require.NoError(t, err)
	for _, msg := range messages {
		assert.Equal(t, []uuid.UUID{bob.ID}, msg.ReadBy)
	}

	var count int64
	require.NoError(t, db.Model(&model.ReadReceipt{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestMarkReadEmptyBatch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	assert.NoError(t, repo.MarkRead(nil, uuid.New()))
}

func TestAddDeletedForIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	conv := seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	msg := model.Message{ConversationID: conv.ID, SenderID: alice.ID, Text: "hide me"}
	require.NoError(t, repo.Create(&msg))

	require.NoError(t, repo.AddDeletedFor(msg.ID, bob.ID))
	require.NoError(t, repo.AddDeletedFor(msg.ID, bob.ID))

	found, err := repo.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob.ID}, found.DeletedFor)
	assert.False(t, found.VisibleTo(bob.ID))
	assert.True(t, found.VisibleTo(alice.ID))
}

func TestDeleteAll(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	conv := seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	for _, text := range []string{"one", "two", "three"} {
		msg := model.Message{ConversationID: conv.ID, SenderID: alice.ID, Text: text}
		require.NoError(t, repo.Create(&msg))
	}

	require.NoError(t, repo.DeleteAll(conv.ID))

	messages, err := repo.GetConversationMessages(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestConversationMembership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")

	conv := model.Conversation{Kind: model.ConversationKindGroup, Name: "Team"}
	require.NoError(t, repo.Create(&conv))
	require.NotEmpty(t, conv.ID)

	require.NoError(t, repo.AddMember(&model.ConversationMember{
		ConversationID: conv.ID, UserID: alice.ID, Role: model.MemberRoleAdmin,
	}))
	require.NoError(t, repo.AddMember(&model.ConversationMember{
		ConversationID: conv.ID, UserID: bob.ID, Role: model.MemberRoleMember,
	}))

	isMember, err := repo.IsMember(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, isMember)

	isMember, err = repo.IsMember(conv.ID, carol.ID)
	require.NoError(t, err)
	assert.False(t, isMember)

	isAdmin, err := repo.IsAdmin(conv.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = repo.IsAdmin(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	ids, err := repo.GetMemberIDs(conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{alice.ID, bob.ID}, ids)

	require.NoError(t, repo.RemoveMember(conv.ID, bob.ID))
	isMember, err = repo.IsMember(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestFindDirectByDeterministicID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	conv, err := repo.FindDirect(bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DirectConversationID(alice.ID, bob.ID), conv.ID)
	require.Len(t, conv.Members, 2)
}

func TestLastMessagePreviewUpkeep(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	conv := seedConversation(t, db, model.ConversationKindDirect, alice, bob)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetLastMessage(conv.ID, "latest", alice.ID, at))

	found, err := repo.FindByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "latest", found.LastMessageText)
	require.NotNil(t, found.LastMessageSenderID)
	assert.Equal(t, alice.ID, *found.LastMessageSenderID)
	require.NotNil(t, found.LastMessageAt)

	require.NoError(t, repo.ClearLastMessage(conv.ID))
	found, err = repo.FindByID(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, found.LastMessageText)
	assert.Nil(t, found.LastMessageSenderID)
	assert.Nil(t, found.LastMessageAt)
}
