package domain

import "errors"

type MessageID int64

var ErrEmptyMessage = errors.New("message has neither text nor image")

// Message is a single posted item. Author and CreatedAt never change
// after creation; only Content is replaced by an edit.
type Message struct {
	ID        MessageID `json:"id"`
	Room      RoomName  `json:"room"`
	Author    string    `json:"author"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt int64     `json:"createdAt"`
}

// Content is the mutable part of a message. Image holds an already
// transport-encoded payload (base64 data URL in practice).
type Content struct {
	Text  string
	Image string
}

func (c Content) Empty() bool { return c.Text == "" && c.Image == "" }

func (c Content) Validate() error {
	if c.Empty() {
		return ErrEmptyMessage
	}
	return nil
}

func (m Message) Content() Content { return Content{Text: m.Text, Image: m.Image} }

// WithContent returns a copy of m carrying c. Identity fields are kept.
func (m Message) WithContent(c Content) Message {
	m.Text = c.Text
	m.Image = c.Image
	return m
}
