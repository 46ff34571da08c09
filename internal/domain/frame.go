package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

type Action string

const (
	ActionSend   Action = "send"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

var (
	ErrBadPayload    = errors.New("bad payload")
	ErrUnknownAction = errors.New("unknown action")
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrBadPayload)
)

// Error codes carried by rejection frames.
const (
	CodeBadPayload         = "bad_payload"
	CodeUnknownAction      = "unknown_action"
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"
	CodeRateLimited        = "rate_limited"
	CodeStorageUnavailable = "storage_unavailable"
)

var validate = validator.New()

// MessageBody is the client-supplied part of a send or edit request.
// Name is accepted for older clients and never trusted.
type MessageBody struct {
	Name  string `json:"name,omitempty"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Img   string `json:"img,omitempty"`
}

// Request is an inbound frame.
type Request struct {
	Action  Action       `json:"action" validate:"required"`
	ID      *MessageID   `json:"id,omitempty"`
	Message *MessageBody `json:"message,omitempty"`
}

func (r Request) Content() Content {
	if r.Message == nil {
		return Content{}
	}
	img := r.Message.Image
	if img == "" {
		img = r.Message.Img
	}
	return Content{Text: r.Message.Text, Image: img}
}

// ParseRequest decodes and validates one inbound frame. Unknown actions are
// reported with ErrUnknownAction, every other defect with ErrBadPayload.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := validate.Struct(req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch req.Action {
	case ActionSend:
	case ActionEdit, ActionDelete:
		if req.ID == nil || *req.ID <= 0 {
			return Request{}, fmt.Errorf("%w: %s requires a positive id", ErrBadPayload, req.Action)
		}
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	return req, nil
}

// EncodeView renders the authoritative view of a room. An empty room is
// always encoded as [] so clients can replace their state wholesale.
func EncodeView(view []Message) ([]byte, error) {
	if view == nil {
		view = []Message{}
	}
	return json.Marshal(view)
}

type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func EncodeError(code string) []byte {
	b, _ := json.Marshal(ErrorFrame{Type: "error", Error: code})
	return b
}
