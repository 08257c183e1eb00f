package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/models"
	"storefront/internal/repository"
)

// Notice is one outbound notification about an order's payment.
type Notice struct {
	Kind     string
	Audience string
	UserID   string // buyer; empty for admin notices
	OrderID  string
	Title    string
	Body     string
	Data     map[string]interface{}
}

// LivePusher delivers a frame to a user's open connections.
type LivePusher interface {
	SendToUser(userID string, payload interface{}) int
}

type NotificationService struct {
	repo   *repository.NotificationRepository
	tokens *repository.DeviceTokenRepository
	fcm    *FCMService
	live   LivePusher
}

func NewNotificationService(repo *repository.NotificationRepository, tokens *repository.DeviceTokenRepository, fcm *FCMService, live LivePusher) *NotificationService {
	return &NotificationService{repo: repo, tokens: tokens, fcm: fcm, live: live}
}

// Send persists the notice and fans it out to the buyer's device and open sessions.
func (s *NotificationService) Send(ctx context.Context, n Notice) error {
	var dataJSON string
	if n.Data != nil {
		b, _ := json.Marshal(n.Data)
		dataJSON = string(b)
	}
	err := s.repo.Create(&models.Notification{
		UserID:   n.UserID,
		Audience: n.Audience,
		Kind:     n.Kind,
		OrderID:  n.OrderID,
		Title:    n.Title,
		Body:     n.Body,
		Data:     dataJSON,
	})
	if err != nil {
		return err
	}
	if n.Audience != domain.AudienceBuyer || n.UserID == "" {
		return nil
	}
	if s.live != nil {
		s.live.SendToUser(n.UserID, map[string]interface{}{
			"type":     n.Kind,
			"order_id": n.OrderID,
			"title":    n.Title,
			"body":     n.Body,
			"data":     n.Data,
		})
	}
	s.sendPush(ctx, n)
	return nil
}

func (s *NotificationService) sendPush(ctx context.Context, n Notice) {
	if s.fcm == nil || s.tokens == nil {
		return
	}
	token, err := s.tokens.GetToken(n.UserID)
	if err != nil || token == "" {
		return
	}
	if err := s.fcm.Send(ctx, token, n.Kind, n.Title, n.Body, n.Data); err != nil {
		log.Printf("[NOTIFY] fcm %s order=%s: %v", n.Kind, n.OrderID, err)
	}
}

// RegisterDevice stores the buyer's latest FCM token.
func (s *NotificationService) RegisterDevice(userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ErrValidation
	}
	return s.tokens.Upsert(userID, token)
}

func (s *NotificationService) ListForUser(userID string, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListByUserID(userID, limit, offset)
}
