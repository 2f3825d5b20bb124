package notification

import (
	"context"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/betalkative/betalk/internal/repository"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// FCMNotifier delivers new-message pushes to registered devices. A nil
// notifier is valid and drops everything, so the server runs without
// Firebase credentials.
type FCMNotifier struct {
	client   *messaging.Client
	userRepo *repository.UserRepository
}

// NewFCMNotifier initializes Firebase messaging. Initialization problems
// disable pushes instead of blocking startup.
func NewFCMNotifier(credentialsFile string, userRepo *repository.UserRepository) *FCMNotifier {
	if credentialsFile == "" {
		log.Println("⚠️ Firebase credentials not provided, push notifications disabled")
		return nil
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("⚠️ Failed to initialize Firebase app: %v (push notifications disabled)", err)
		return nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("⚠️ Failed to get messaging client: %v", err)
		return nil
	}

	log.Println("✅ Firebase FCM initialized")
	return &FCMNotifier{
		client:   client,
		userRepo: userRepo,
	}
}

// NotifyUsers pushes one notification to every device of the given users.
func (s *FCMNotifier) NotifyUsers(userIDs []uuid.UUID, title, body string, data map[string]string) {
	if s == nil || s.client == nil {
		return
	}
	if body == "" {
		body = "Sent an attachment"
	}

	tokens := []string{}
	for _, userID := range userIDs {
		devices, err := s.userRepo.GetUserDevices(userID)
		if err != nil {
			continue
		}
		for _, d := range devices {
			tokens = append(tokens, d.FCMToken)
		}
	}
	if len(tokens) == 0 {
		return
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	br, err := s.client.SendMulticast(context.Background(), message)
	if err != nil {
		log.Printf("⚠️ FCM send failed: %v", err)
		return
	}
	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if !resp.Success {
				log.Printf("⚠️ FCM failure for token %s: %v", tokens[idx], resp.Error)
			}
		}
	}
}
