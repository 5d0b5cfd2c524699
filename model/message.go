package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// MessageType is the wire envelope tag.
	MessageType string

	// Message is one of the closed set of wire message kinds.
	// Receivers must ignore envelope fields they do not know about.
	Message interface {
		Kind() MessageType
	}
)

const (
	SyncMessageType       MessageType = "sync"
	PresenceMessageType   MessageType = "presence"
	LeaveMessageType      MessageType = "leave"
	PingMessageType       MessageType = "ping"
	NewPageMessageType    MessageType = "new_page"
	UpdatePageMessageType MessageType = "update_page"
	DeletePageMessageType MessageType = "delete_page"
)

// ErrUnknownMessage is returned by ParseMessage for an unrecognized envelope
// tag (conforming receivers drop those silently).
var ErrUnknownMessage = errors.New("unknown message type")

type (
	// SyncMessage carries a batch of record mutations for a page.
	SyncMessage struct {
		Type    MessageType `json:"type"`
		UserId  string      `json:"userId"`
		PageId  string      `json:"pageId"`
		Payload ChangeSet   `json:"payload"`
	}

	// Camera is a participant viewport position.
	Camera struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}

	// PresenceMessage is an ephemeral cursor/camera broadcast.
	// Position fields are pointers so a structurally invalid message can be
	// told apart from a zero position.
	PresenceMessage struct {
		Type     MessageType `json:"type"`
		UserId   string      `json:"userId"`
		UserName string      `json:"userName"`
		PageId   string      `json:"pageId"`
		BoardId  string      `json:"boardId"`
		X        *float64    `json:"x"`
		Y        *float64    `json:"y"`
		Camera   *Camera     `json:"camera"`
	}

	// LeaveMessage announces a participant leaving the page.
	LeaveMessage struct {
		Type     MessageType `json:"type"`
		DrawerId string      `json:"drawerId"`
		PageId   string      `json:"pageId"`
	}

	// PingMessage is a keepalive (no payload).
	PingMessage struct {
		Type MessageType `json:"type"`
	}

	// PageInfo is the page unit exchanged with the page directory.
	PageInfo struct {
		PageId    string `json:"pageId"`
		PageTitle string `json:"pageTitle"`
	}

	// NewPageMessage announces a page created by a peer.
	NewPageMessage struct {
		Type MessageType `json:"type"`
		Page PageInfo    `json:"page"`
	}

	// UpdatePageMessage announces a page renamed by a peer.
	UpdatePageMessage struct {
		Type MessageType `json:"type"`
		Page PageInfo    `json:"page"`
	}

	// DeletePageMessage announces a page deleted by a peer.
	DeletePageMessage struct {
		Type MessageType `json:"type"`
		Page PageInfo    `json:"page"`
	}
)

// Kind implements the Message interface.
func (SyncMessage) Kind() MessageType { return SyncMessageType }

// Kind implements the Message interface.
func (PresenceMessage) Kind() MessageType { return PresenceMessageType }

// Kind implements the Message interface.
func (LeaveMessage) Kind() MessageType { return LeaveMessageType }

// Kind implements the Message interface.
func (PingMessage) Kind() MessageType { return PingMessageType }

// Kind implements the Message interface.
func (NewPageMessage) Kind() MessageType { return NewPageMessageType }

// Kind implements the Message interface.
func (UpdatePageMessage) Kind() MessageType { return UpdatePageMessageType }

// Kind implements the Message interface.
func (DeletePageMessage) Kind() MessageType { return DeletePageMessageType }

// IsValid checks the presence position/camera fields structurally.
func (m PresenceMessage) IsValid() bool {
	return m.UserId != "" && m.X != nil && m.Y != nil && m.Camera != nil
}

// NewSyncMessage creates a valid SyncMessage object.
func NewSyncMessage(userId, pageId string, payload ChangeSet) SyncMessage {
	return SyncMessage{
		Type:    SyncMessageType,
		UserId:  userId,
		PageId:  pageId,
		Payload: payload,
	}
}

// NewPresenceMessage creates a valid PresenceMessage object.
func NewPresenceMessage(boardId, pageId, userId, userName string, x, y float64, camera Camera) PresenceMessage {
	return PresenceMessage{
		Type:     PresenceMessageType,
		UserId:   userId,
		UserName: userName,
		PageId:   pageId,
		BoardId:  boardId,
		X:        &x,
		Y:        &y,
		Camera:   &camera,
	}
}

// NewLeaveMessage creates a valid LeaveMessage object.
func NewLeaveMessage(drawerId, pageId string) LeaveMessage {
	return LeaveMessage{
		Type:     LeaveMessageType,
		DrawerId: drawerId,
		PageId:   pageId,
	}
}

// NewPingMessage creates a valid PingMessage object.
func NewPingMessage() PingMessage {
	return PingMessage{Type: PingMessageType}
}

// NewPageLifecycleMessage creates a page lifecycle message of the given kind.
func NewPageLifecycleMessage(kind MessageType, page PageInfo) (Message, error) {
	switch kind {
	case NewPageMessageType:
		return NewPageMessage{Type: kind, Page: page}, nil
	case UpdatePageMessageType:
		return UpdatePageMessage{Type: kind, Page: page}, nil
	case DeletePageMessageType:
		return DeletePageMessage{Type: kind, Page: page}, nil
	}

	return nil, fmt.Errorf("%s: not a page lifecycle kind", kind)
}

// ParseMessage decodes a complete wire message, resolving the concrete kind
// from the envelope tag. Unknown tags return ErrUnknownMessage.
func ParseMessage(raw []byte) (Message, error) {
	envelope := struct {
		Type MessageType `json:"type"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	switch envelope.Type {
	case SyncMessageType:
		msg := SyncMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", envelope.Type, err)
		}
		return msg, nil
	case PresenceMessageType:
		msg := PresenceMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", envelope.Type, err)
		}
		return msg, nil
	case LeaveMessageType:
		msg := LeaveMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", envelope.Type, err)
		}
		return msg, nil
	case PingMessageType:
		return PingMessage{Type: PingMessageType}, nil
	case NewPageMessageType:
		msg := NewPageMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", envelope.Type, err)
		}
		return msg, nil
	case UpdatePageMessageType:
		msg := UpdatePageMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", envelope.Type, err)
		}
		return msg, nil
	case DeletePageMessageType:
		msg := DeletePageMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", envelope.Type, err)
		}
		return msg, nil
	}

	return nil, fmt.Errorf("%q: %w", envelope.Type, ErrUnknownMessage)
}

// EncodeMessage serializes a wire message.
func EncodeMessage(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg.Kind(), err)
	}

	return raw, nil
}
