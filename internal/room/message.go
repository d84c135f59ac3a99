package room

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageRole is the exhaustive, priority-ordered author classification.
type MessageRole int

const (
	RoleWhite MessageRole = iota
	RoleUser
	RoleStaff
	RoleAdmin
	RoleSystem
)

func (r MessageRole) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleAdmin:
		return "admin"
	case RoleStaff:
		return "staff"
	case RoleUser:
		return "user"
	default:
		return "white"
	}
}

// Prefix returns the rendering prefix for the role.
func (r MessageRole) Prefix() string {
	switch r {
	case RoleSystem:
		return "\U0001F4BB" // 💻
	case RoleAdmin:
		return "\U0001F451" // 👑
	case RoleStaff:
		return "\U0001F31F" // 🌟
	case RoleUser:
		return "\U0001F49A" // 💚
	default:
		return "\u26AA" // ⚪
	}
}

// AuthorFlags are the raw authorship flags carried on a chat envelope.
type AuthorFlags struct {
	Purple bool `json:"purple"`
	Admin  bool `json:"admin"`
	Staff  bool `json:"staff"`
	User   bool `json:"user"`
	Owner  bool `json:"owner"`
}

// ClassifyRole maps authorship flags to exactly one role, in priority
// order: System (purple without a logged-in user), Admin, Staff, User,
// White.
func ClassifyRole(f AuthorFlags) MessageRole {
	switch {
	case f.Purple && !f.User:
		return RoleSystem
	case f.Admin:
		return RoleAdmin
	case f.Staff:
		return RoleStaff
	case f.User:
		return RoleUser
	default:
		return RoleWhite
	}
}

// Message is a derived chat entity, immutable once constructed.
type Message struct {
	Nick   string
	Text   string
	Role   MessageRole
	Self   bool
	System bool

	// Reference lists extracted while flattening the message body.
	Files []string
	Rooms []string
	URLs  []string
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s: %s", m.Role.Prefix(), m.Nick, m.Text)
}

type chatPayload struct {
	Nick    string            `json:"nick"`
	Message []json.RawMessage `json:"message"`
	Options AuthorFlags       `json:"options"`
}

type messagePart struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// DeriveMessage builds a Message from a raw chat envelope payload. selfNick
// marks messages authored by this session.
func DeriveMessage(payload json.RawMessage, selfNick string) (*Message, error) {
	var body chatPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("room: chat payload: %w", err)
	}
	msg := &Message{
		Nick: body.Nick,
		Role: ClassifyRole(body.Options),
		Self: selfNick != "" && body.Nick == selfNick,
	}
	msg.System = msg.Role == RoleSystem

	var sb strings.Builder
	for _, raw := range body.Message {
		if err := flattenPart(raw, &sb, msg); err != nil {
			return nil, err
		}
	}
	msg.Text = sb.String()
	return msg, nil
}

// flattenPart appends one body segment to the flattened text, collecting
// file/room/url references as it goes.
func flattenPart(raw json.RawMessage, sb *strings.Builder, msg *Message) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("room: chat segment: %w", err)
		}
		sb.WriteString(s)
		return nil
	}

	var part messagePart
	if err := json.Unmarshal(raw, &part); err != nil {
		return fmt.Errorf("room: chat segment: %w", err)
	}
	switch part.Type {
	case "file":
		msg.Files = append(msg.Files, part.ID)
		if part.Name != "" {
			sb.WriteString(part.Name)
		} else {
			sb.WriteString(part.ID)
		}
	case "room":
		msg.Rooms = append(msg.Rooms, part.ID)
		sb.WriteString("#" + part.ID)
	case "url":
		msg.URLs = append(msg.URLs, part.URL)
		if part.Text != "" {
			sb.WriteString(part.Text)
		} else {
			sb.WriteString(part.URL)
		}
	case "break":
		sb.WriteString("\n")
	default:
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return nil
}
