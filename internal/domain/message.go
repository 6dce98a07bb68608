package domain

import "time"

// Sender: автор сообщения в переписке по заказу.
type Sender string

const (
	SenderUser  Sender = "User"
	SenderAdmin Sender = "Admin"
)

// Valid проверяет, что отправитель из словаря.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAdmin
}

// Message: сообщение переписки; хранится только внутри заказа.
type Message struct {
	// ID уникален в пределах заказа и строго возрастает: max + 1.
	ID        int64
	Sender    Sender
	Text      string
	ImageURL  string
	Timestamp time.Time
	// Read выставляет вторая сторона; прочитанное сообщение покупатель удалить не может.
	Read bool
}

// NextMessageID возвращает max(существующих ID, 0) + 1.
func (o *Order) NextMessageID() int64 {
	var maxID int64
	for _, msg := range o.Messages {
		if msg.ID > maxID {
			maxID = msg.ID
		}
	}
	return maxID + 1
}

// AppendMessage присваивает ID и дописывает сообщение в конец переписки.
func (o *Order) AppendMessage(sender Sender, text, imageURL string, at time.Time) (Message, error) {
	if text == "" && imageURL == "" {
		return Message{}, ErrMessageEmpty
	}
	msg := Message{
		ID:        o.NextMessageID(),
		Sender:    sender,
		Text:      text,
		ImageURL:  imageURL,
		Timestamp: at,
	}
	o.Messages = append(o.Messages, msg)
	o.UpdatedAt = at
	return msg, nil
}

// RemoveMessage физически удаляет сообщение из переписки.
func (o *Order) RemoveMessage(id int64) (Message, error) {
	for i, msg := range o.Messages {
		if msg.ID == id {
			o.Messages = append(o.Messages[:i], o.Messages[i+1:]...)
			return msg, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// MarkRead отмечает прочитанными сообщения отправителя from. Возвращает число изменённых.
func (o *Order) MarkRead(from Sender) int {
	marked := 0
	for i := range o.Messages {
		if o.Messages[i].Sender == from && !o.Messages[i].Read {
			o.Messages[i].Read = true
			marked++
		}
	}
	return marked
}
