// Package thread ведёт переписку покупателя и персонала внутри заказа.
package thread

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
)

// Service дописывает, удаляет и отмечает прочитанными сообщения заказа.
type Service struct {
	writer *lifecycle.Writer
	logger *log.Entry
}

// NewService создаёт сервис переписки.
func NewService(writer *lifecycle.Writer, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "thread")
	}
	return &Service{writer: writer, logger: logger}
}

// AppendResult возвращает сохранённый заказ и добавленное сообщение.
type AppendResult struct {
	Order   domain.Order
	Message domain.Message
	// Stripped: из текста покупателя удалены неанглийские символы.
	Stripped bool
}

// PostBuyerMessage добавляет сообщение покупателя в его заказ.
func (s *Service) PostBuyerMessage(ctx context.Context, buyer domain.Buyer, orderID, text, imageURL string) (AppendResult, error) {
	return s.appendMessage(ctx, orderID, buyer.Identity(), domain.SenderUser, text, imageURL, func(o *domain.Order) error {
		if o.UserID != buyer.UserID {
			return domain.ErrOrderNotFound
		}
		return nil
	})
}

// PostStaffMessage добавляет сообщение персонала.
func (s *Service) PostStaffMessage(ctx context.Context, adminID, orderID, text, imageURL string) (AppendResult, error) {
	return s.appendMessage(ctx, orderID, adminID, domain.SenderAdmin, text, imageURL, nil)
}

func (s *Service) appendMessage(
	ctx context.Context,
	orderID, author string,
	sender domain.Sender,
	text, imageURL string,
	authorize func(*domain.Order) error,
) (AppendResult, error) {
	clean := Sanitize(sender, text)
	imageURL = strings.TrimSpace(imageURL)
	if clean.Text == "" && imageURL == "" {
		verr := &domain.ValidationError{}
		verr.Add("message.text", domain.ErrMessageEmpty)
		return AppendResult{Stripped: clean.Stripped}, verr
	}

	var appended domain.Message
	order, _, err := s.writer.Mutate(ctx, orderID, func(o *domain.Order, now time.Time) error {
		if authorize != nil {
			if err := authorize(o); err != nil {
				return err
			}
		}
		msg, err := o.AppendMessage(sender, clean.Text, imageURL, now)
		if err != nil {
			return err
		}
		appended = msg
		return nil
	})
	if err != nil {
		return AppendResult{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"message_id": appended.ID,
		"author":     author,
	}).Debug("message appended")

	s.writer.Emit(ctx, domain.AggregateOrder, order.ID, lifecycle.EventOrderMessageAppended, lifecycle.MessageAppendedPayload{
		OrderID:   order.ID,
		MessageID: appended.ID,
		Sender:    string(sender),
		Timestamp: appended.Timestamp,
	})
	s.writer.Notify(ctx, messageNotification(order, sender))

	return AppendResult{Order: order, Message: appended, Stripped: clean.Stripped}, nil
}

// RemoveMessage удаляет собственное непрочитанное сообщение покупателя до подтверждения заказа.
func (s *Service) RemoveMessage(ctx context.Context, buyer domain.Buyer, orderID string, messageID int64) (domain.Order, error) {
	order, _, err := s.writer.Mutate(ctx, orderID, func(o *domain.Order, now time.Time) error {
		if o.UserID != buyer.UserID {
			return domain.ErrOrderNotFound
		}
		if !o.Status.Editable() {
			return domain.ErrMessageNotRemovable
		}
		for _, msg := range o.Messages {
			if msg.ID != messageID {
				continue
			}
			if msg.Sender != domain.SenderUser || msg.Read {
				return domain.ErrMessageNotRemovable
			}
			if _, err := o.RemoveMessage(messageID); err != nil {
				return err
			}
			o.UpdatedAt = now
			return nil
		}
		return domain.ErrMessageNotFound
	})
	return order, err
}

// MarkReadByBuyer отмечает прочитанными сообщения персонала.
func (s *Service) MarkReadByBuyer(ctx context.Context, buyer domain.Buyer, orderID string) (domain.Order, int, error) {
	return s.markRead(ctx, orderID, domain.SenderAdmin, func(o *domain.Order) error {
		if o.UserID != buyer.UserID {
			return domain.ErrOrderNotFound
		}
		return nil
	})
}

// MarkReadByStaff отмечает прочитанными сообщения покупателя; после этого покупатель не может их удалить.
func (s *Service) MarkReadByStaff(ctx context.Context, orderID string) (domain.Order, int, error) {
	return s.markRead(ctx, orderID, domain.SenderUser, nil)
}

func (s *Service) markRead(ctx context.Context, orderID string, from domain.Sender, authorize func(*domain.Order) error) (domain.Order, int, error) {
	var marked int
	order, _, err := s.writer.Mutate(ctx, orderID, func(o *domain.Order, _ time.Time) error {
		if authorize != nil {
			if err := authorize(o); err != nil {
				return err
			}
		}
		marked = o.MarkRead(from)
		if marked == 0 {
			return lifecycle.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, 0, err
	}
	return order, marked, nil
}

func messageNotification(order domain.Order, sender domain.Sender) domain.Notification {
	n := domain.Notification{
		Code:     "message_received",
		Category: domain.NotificationCategoryMessage,
		OrderID:  order.ID,
		UserID:   order.UserID,
	}
	if sender == domain.SenderAdmin {
		n.Title = "New message from the crew store"
		n.Body = "Staff replied about your order " + order.ID
	} else {
		n.Title = "New buyer message"
		n.Body = "Buyer wrote about order " + order.ID
	}
	return n
}
