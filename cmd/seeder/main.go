package main

import (
	"fmt"
	"log"

	"github.com/betalkative/betalk/internal/config"
	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	cfg := config.Load()

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to Database")

	password := "password123"
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("❌ Failed to hash password: %v", err)
	}

	log.Println("🌱 Seeding 10 users...")

	for i := 1; i <= 10; i++ {
		username := fmt.Sprintf("user%d", i)
		email := fmt.Sprintf("user%d@betalk.local", i)

		var existing model.User
		if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
			continue
		}

		user := model.User{
			ID:       uuid.New(),
			Name:     fmt.Sprintf("User Number %d", i),
			Email:    email,
			Password: string(hashedPassword),
			IsOnline: i%3 == 0,
			Avatar:   fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", username),
		}

		if err := db.Create(&user).Error; err != nil {
			log.Printf("❌ Failed to create user %s: %v", username, err)
		} else {
			log.Printf("✅ Created user: %s | Email: %s | Pass: %s", username, email, password)
		}
	}

	seedDirectChat(db)
	seedGroupChat(db)

	log.Println("🎉 Seeding completed!")
}

func seedDirectChat(db *gorm.DB) {
	var users []model.User
	if err := db.Order("email").Limit(2).Find(&users).Error; err != nil || len(users) < 2 {
		return
	}

	a, b := users[0], users[1]
	convID := model.DirectConversationID(a.ID, b.ID)

	var count int64
	db.Model(&model.Conversation{}).Where("id = ?", convID).Count(&count)
	if count > 0 {
		return
	}

	conv := model.Conversation{
		ID:   convID,
		Kind: model.ConversationKindDirect,
	}
	if err := db.Create(&conv).Error; err != nil {
		log.Printf("❌ Failed to create direct conversation: %v", err)
		return
	}

	for _, u := range users {
		db.Create(&model.ConversationMember{
			ConversationID: conv.ID,
			UserID:         u.ID,
			Role:           model.MemberRoleMember,
		})
	}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       a.ID,
		Text:           fmt.Sprintf("Hey %s, welcome to BeTalk!", b.Name),
	}
	if err := db.Create(&msg).Error; err == nil {
		db.Model(&model.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
			"last_message_text":      msg.PreviewText(),
			"last_message_sender_id": msg.SenderID,
			"last_message_at":        msg.CreatedAt,
		})
	}

	log.Printf("✅ Created demo direct conversation: %s <-> %s", a.Name, b.Name)
}

func seedGroupChat(db *gorm.DB) {
	var users []model.User
	if err := db.Order("email").Limit(3).Find(&users).Error; err != nil || len(users) < 3 {
		return
	}

	admin := users[0]
	members := users[1:]

	var count int64
	db.Model(&model.Conversation{}).Where("name = ?", "General Chat").Count(&count)
	if count > 0 {
		return
	}

	group := model.Conversation{
		Name:      "General Chat",
		Kind:      model.ConversationKindGroup,
		Avatar:    "https://api.dicebear.com/7.x/initials/svg?seed=GC",
		CreatorID: &admin.ID,
	}

	if err := db.Create(&group).Error; err != nil {
		log.Printf("❌ Failed to create group: %v", err)
		return
	}

	db.Create(&model.ConversationMember{
		ConversationID: group.ID,
		UserID:         admin.ID,
		Role:           model.MemberRoleAdmin,
	})

	for _, m := range members {
		db.Create(&model.ConversationMember{
			ConversationID: group.ID,
			UserID:         m.ID,
			Role:           model.MemberRoleMember,
		})
	}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: group.ID,
		SenderID:       admin.ID,
		Text:           "Welcome everybody to BeTalk! 🚀",
	}
	if err := db.Create(&msg).Error; err == nil {
		db.Model(&model.Conversation{}).Where("id = ?", group.ID).Updates(map[string]interface{}{
			"last_message_text":      msg.PreviewText(),
			"last_message_sender_id": msg.SenderID,
			"last_message_at":        msg.CreatedAt,
		})
	}

	log.Println("✅ Created demo group: 'General Chat' with 3 members")
}
