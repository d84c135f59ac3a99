package room

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/roomwire/roomwire/internal/protocol"
)

// Chat sends one chat message. Validation happens before any frame is built.
func (s *Session) Chat(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if max := s.maxMessageLength(); utf8.RuneCountInString(text) > max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, utf8.RuneCountInString(text), max)
	}
	return s.send(protocol.CallPayload{Fn: "chat", Args: []any{s.Nick(), text}})
}

func (s *Session) maxMessageLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.MaxMessageLength > 0 {
		return s.settings.MaxMessageLength
	}
	return s.cfg.MaxMessageLength
}

// ChangeNick requests a new chat name: 3-12 alphanumeric characters,
// further clamped by the server-supplied maximum.
func (s *Session) ChangeNick(nick string) error {
	max := 12
	if m := s.Settings().MaxNickLength; m > 0 && m < max {
		max = m
	}
	if err := validateNick(nick, max); err != nil {
		return err
	}
	return s.send(protocol.CallPayload{Fn: "command", Args: []any{s.Nick(), "nick", nick}})
}

func validateNick(nick string, max int) error {
	n := utf8.RuneCountInString(nick)
	if n < 3 || n > max {
		return fmt.Errorf("%w: length %d not in [3,%d]", ErrInvalidNick, n, max)
	}
	for _, r := range nick {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("%w: %q", ErrInvalidNick, r)
		}
	}
	return nil
}

// Report files an abuse report against the room.
func (s *Session) Report(reason string) error {
	return s.send(protocol.CallPayload{Fn: "submitReport", Args: []any{map[string]any{"reason": reason}}})
}

// DeleteFile removes a live file. Janitor-level.
func (s *Session) DeleteFile(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing file id", ErrInvalidSetting)
	}
	if !s.Roles().JanitorLevel() {
		return fmt.Errorf("%w: delete_file needs janitor", ErrNotPermitted)
	}
	return s.send(protocol.CallPayload{Fn: "deleteFiles", Args: []any{[]string{id}}})
}

// Timeout silences a user for a duration. Janitor-level.
func (s *Session) Timeout(id, nick string, d time.Duration) error {
	if id == "" || nick == "" {
		return fmt.Errorf("%w: id and nick required", ErrInvalidTimeout)
	}
	if d <= 0 {
		return fmt.Errorf("%w: non-positive duration", ErrInvalidTimeout)
	}
	if !s.Roles().JanitorLevel() {
		return fmt.Errorf("%w: timeout needs janitor", ErrNotPermitted)
	}
	return s.send(protocol.CallPayload{Fn: "timeoutChat", Args: []any{id, nick, int(d.Seconds())}})
}

// BanSpec identifies a ban/unban target. At least one of IP and ID is
// required; Hours applies to bans only.
type BanSpec struct {
	IP     string
	ID     string
	Nick   string
	Hours  int
	Reason string
	Purge  bool
}

func (b BanSpec) validateTarget() error {
	if b.IP == "" && b.ID == "" {
		return fmt.Errorf("%w: need ip or id", ErrInvalidBanSpec)
	}
	return nil
}

// Ban bans a user. Admin-level.
func (s *Session) Ban(spec BanSpec) error {
	if err := spec.validateTarget(); err != nil {
		return err
	}
	if spec.Hours <= 0 {
		return fmt.Errorf("%w: non-positive hours", ErrInvalidBanSpec)
	}
	if !s.Roles().AdminLevel() {
		return fmt.Errorf("%w: ban needs admin", ErrNotPermitted)
	}
	return s.send(protocol.CallPayload{Fn: "banUser", Args: []any{banArgs(spec, true)}})
}

// Unban lifts a ban. Admin-level.
func (s *Session) Unban(spec BanSpec) error {
	if err := spec.validateTarget(); err != nil {
		return err
	}
	if !s.Roles().AdminLevel() {
		return fmt.Errorf("%w: unban needs admin", ErrNotPermitted)
	}
	return s.send(protocol.CallPayload{Fn: "unbanUser", Args: []any{banArgs(spec, false)}})
}

func banArgs(spec BanSpec, ban bool) map[string]any {
	args := map[string]any{
		"ip":     spec.IP,
		"id":     spec.ID,
		"nick":   spec.Nick,
		"reason": spec.Reason,
	}
	if ban {
		args["hours"] = spec.Hours
		args["purgeFiles"] = spec.Purge
	}
	return args
}

// Room setting accessors. Each performs its privilege check locally, then
// issues the remote editInfo call; there is no dynamic property surface.

func (s *Session) SetRoomName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty room name", ErrInvalidSetting)
	}
	return s.editInfo(map[string]any{"name": name})
}

func (s *Session) SetMOTD(motd string) error {
	if utf8.RuneCountInString(motd) > 1000 {
		return fmt.Errorf("%w: motd too long", ErrInvalidSetting)
	}
	return s.editInfo(map[string]any{"motd": motd})
}

func (s *Session) SetFileTTL(hours int) error {
	if hours <= 0 {
		return fmt.Errorf("%w: non-positive file ttl", ErrInvalidSetting)
	}
	return s.editInfo(map[string]any{"file_ttl": hours})
}

func (s *Session) SetMaxFiles(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: non-positive max files", ErrInvalidSetting)
	}
	return s.editInfo(map[string]any{"max_files": n})
}

func (s *Session) SetDisabled(disabled bool) error {
	return s.editInfo(map[string]any{"disabled": disabled})
}

func (s *Session) SetAdultRoom(adult bool) error {
	return s.editInfo(map[string]any{"adult": adult})
}

func (s *Session) editInfo(change map[string]any) error {
	if !s.Roles().AdminLevel() {
		return fmt.Errorf("%w: editInfo needs admin", ErrNotPermitted)
	}
	return s.send(protocol.CallPayload{Fn: "editInfo", Args: []any{change}})
}
