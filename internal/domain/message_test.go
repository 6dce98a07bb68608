package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

func TestAppendMessage_IDsAreMaxPlusOne(t *testing.T) {
	order := makeOrder()
	at := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		msg, err := order.AppendMessage(domain.SenderUser, "need it before Rotterdam", "", at)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if msg.ID != int64(i) {
			t.Fatalf("expected id %d, got %d", i, msg.ID)
		}
	}

	if _, err := order.AppendMessage(domain.SenderAdmin, "", "", at); !errors.Is(err, domain.ErrMessageEmpty) {
		t.Fatalf("expected ErrMessageEmpty, got %v", err)
	}
	if _, err := order.AppendMessage(domain.SenderAdmin, "", "https://cdn.example/photo.jpg", at); err != nil {
		t.Fatalf("image-only message should be accepted: %v", err)
	}
}

func TestAppendRemove_RoundTrip(t *testing.T) {
	order := makeOrder()
	at := time.Now().UTC()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := order.AppendMessage(domain.SenderUser, text, "", at); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	before := append([]domain.Message(nil), order.Messages...)

	added, err := order.AppendMessage(domain.SenderUser, "typo", "", at)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := order.RemoveMessage(added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(order.Messages) != len(before) {
		t.Fatalf("thread length changed: %d vs %d", len(order.Messages), len(before))
	}
	for i := range before {
		if order.Messages[i] != before[i] {
			t.Fatalf("message %d differs after round trip", i)
		}
	}
	if next := order.NextMessageID(); next != 4 {
		t.Fatalf("next id should resume from max(remaining)+1 = 4, got %d", next)
	}

	// Удаление из середины: следующий ID всё равно от максимума.
	if _, err := order.RemoveMessage(2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if next := order.NextMessageID(); next != 4 {
		t.Fatalf("expected 4 after removing a middle message, got %d", next)
	}
	if _, err := order.RemoveMessage(2); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	order := makeOrder()
	at := time.Now().UTC()
	_, _ = order.AppendMessage(domain.SenderUser, "hello", "", at)
	_, _ = order.AppendMessage(domain.SenderAdmin, "hi", "", at)
	_, _ = order.AppendMessage(domain.SenderUser, "thanks", "", at)

	if marked := order.MarkRead(domain.SenderUser); marked != 2 {
		t.Fatalf("expected 2 marked, got %d", marked)
	}
	if order.Messages[1].Read {
		t.Fatal("admin message must stay unread")
	}
	if marked := order.MarkRead(domain.SenderUser); marked != 0 {
		t.Fatalf("second call must be a no-op, got %d", marked)
	}
}
