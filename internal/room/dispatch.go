package room

import (
	"encoding/json"
	"time"

	"github.com/roomwire/roomwire/internal/bus"
	"github.com/roomwire/roomwire/internal/protocol"
)

// genericAllowList covers server-originated informational envelopes that
// have no dedicated handler and are reposted without complaint.
var genericAllowList = []string{
	"user_count",
	"hideUser",
	"pro",
	"update_assets",
	"upload_info",
	"login",
	"logout",
	"room_old",
	"subscribed",
}

func (s *Session) registerHandlers() {
	s.handlers = map[string]func(payload []byte) error{
		"chat":        s.handleChat,
		"files":       s.handleFilesEnvelope,
		"delete_file": s.handleDeleteFile,
		"time":        s.handleTime,
		"config":      s.handleConfig,
		"session":     s.handleSession,
		"owner":       s.handleRoleFlag,
		"admin":       s.handleRoleFlag,
		"staff":       s.handleRoleFlag,
		"janitor":     s.handleRoleFlag,
		"chat_name":   s.handleChatName,
		"callback":    s.handleCallback,
	}
	s.generic = make(map[string]struct{}, len(genericAllowList))
	for _, kind := range genericAllowList {
		s.generic[kind] = struct{}{}
	}
}

// handleRaw processes one raw transport message: the one-time handshake
// payload, or a framed batch of envelopes.
func (s *Session) handleRaw(raw []byte) {
	hs, fr, err := protocol.ParseInbound(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("undecodable inbound message")
		return
	}
	if hs != nil {
		s.handleHandshake(hs)
		return
	}

	s.metrics.FrameIn()
	for _, entry := range fr.Entries {
		switch entry.Code {
		case protocol.CodeEnvelope:
			s.seq.Observe(entry.Seq)
			s.dispatch(entry.Envelope)
		case protocol.CodeClose:
			s.handleRemoteClose()
			return
		case protocol.CodePrivilegeRevoked:
			s.fail(ErrPrivilegeRevoked)
			return
		case protocol.CodeRateLimited:
			s.fail(ErrRateLimited)
			return
		default:
			s.log.Warn().Int("code", entry.Code).Msg("unknown control envelope")
		}
	}
	if s.seq.ShouldFlushAck() {
		s.flushAck()
	}
}

func (s *Session) handleHandshake(hs *protocol.Handshake) {
	s.mu.Lock()
	if s.handshook {
		s.mu.Unlock()
		s.log.Warn().Msg("duplicate handshake payload ignored")
		return
	}
	s.handshook = true
	s.token = hs.Session
	s.version = hs.Version
	nick := s.nick
	s.mu.Unlock()

	s.seq.Seed(hs.Ack)
	s.log.Info().Int("version", hs.Version).Str("session", hs.Session).Msg("handshake complete")

	if err := s.send(protocol.CallPayload{Fn: "subscribe", Args: []any{s.cfg.Room, nick}}); err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateSubscribed
	}
	s.mu.Unlock()
	s.subOnce.Do(func() { close(s.subCh) })
	s.bus.Publish(bus.Event{Kind: EventSubscribed})
}

// handleRemoteClose reacts to the server's close envelope. It is never an
// application error, whether or not the session initiated the shutdown.
func (s *Session) handleRemoteClose() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateClosing || st == StateClosed {
		s.transportOnce.Do(func() { close(s.transportCh) })
		return
	}
	s.log.Info().Msg("server closed the session")
	s.teardown(nil)
}

// dispatch routes one typed envelope. Failures are isolated: a bad envelope
// is logged with its type and payload and never stops the batch.
func (s *Session) dispatch(env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("type", env.Type).
				RawJSON("payload", nonEmptyJSON(env.Payload)).
				Interface("panic", r).
				Msg("envelope handler panicked")
		}
	}()

	handler, ok := s.handlers[env.Type]
	if !ok {
		s.repost(env)
		return
	}
	if err := handler(env.Payload); err != nil {
		s.log.Warn().
			Str("type", env.Type).
			RawJSON("payload", nonEmptyJSON(env.Payload)).
			Err(err).
			Msg("envelope handler failed")
	}
}

// repost re-emits an unhandled envelope under its own type name. Types off
// the allow-list are additionally logged as unexpected.
func (s *Session) repost(env protocol.Envelope) {
	if _, ok := s.generic[env.Type]; !ok {
		s.log.Warn().
			Str("type", env.Type).
			RawJSON("payload", nonEmptyJSON(env.Payload)).
			Msg("unexpected envelope type")
	}
	if env.Type == "user_count" {
		var count int
		if err := json.Unmarshal(env.Payload, &count); err == nil {
			s.mu.Lock()
			s.userCount = count
			s.mu.Unlock()
		}
	}
	s.bus.Publish(bus.Event{Kind: env.Type, Data: env.Payload})
}

func (s *Session) handleChat(payload []byte) error {
	msg, err := DeriveMessage(payload, s.Nick())
	if err != nil {
		return err
	}
	s.bus.Publish(bus.Event{Kind: EventChat, Data: msg})
	return nil
}

func (s *Session) handleFilesEnvelope(payload []byte) error {
	var body struct {
		Files []json.RawMessage `json:"files"`
		Set   bool              `json:"set"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	delta := s.TimeDelta()

	var added []*File
	s.mu.Lock()
	for _, raw := range body.Files {
		f, err := DeriveFile(raw, delta)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping undecodable file tuple")
			continue
		}
		s.files[f.ID] = f
		added = append(added, f)
		for _, w := range s.fileWaits[f.ID] {
			w.ch <- f
			close(w.ch)
		}
		delete(s.fileWaits, f.ID)
	}
	s.mu.Unlock()

	for _, f := range added {
		s.bus.Publish(bus.Event{Kind: EventFile, Data: f})
	}
	if body.Set {
		s.markConnected()
	}
	return nil
}

// markConnected records the first full snapshot milestone.
func (s *Session) markConnected() {
	s.mu.Lock()
	if s.state != StateSubscribed {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.mu.Unlock()
	s.connOnce.Do(func() { close(s.connCh) })
	s.bus.Publish(bus.Event{Kind: EventConnected})
}

func (s *Session) handleDeleteFile(payload []byte) error {
	var id string
	if err := json.Unmarshal(payload, &id); err != nil {
		return err
	}
	s.mu.Lock()
	_, ok := s.files[id]
	delete(s.files, id)
	s.mu.Unlock()
	if ok {
		s.bus.Publish(bus.Event{Kind: EventFileDeleted, Data: id})
	}
	return nil
}

func (s *Session) handleTime(payload []byte) error {
	var serverMS int64
	if err := json.Unmarshal(payload, &serverMS); err != nil {
		return err
	}
	delta := time.Until(time.UnixMilli(serverMS))
	s.mu.Lock()
	s.timeDelta = delta
	s.mu.Unlock()
	return nil
}

func (s *Session) handleConfig(payload []byte) error {
	var body struct {
		Name             *string `json:"name"`
		MOTD             *string `json:"motd"`
		MaxMessageLength *int    `json:"max_message"`
		MaxNickLength    *int    `json:"max_nick"`
		FileTTL          *int    `json:"file_ttl"`
		MaxFiles         *int    `json:"max_files"`
		Disabled         *bool   `json:"disabled"`
		Adult            *bool   `json:"adult"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}

	s.mu.Lock()
	if body.Name != nil {
		s.settings.Name = *body.Name
	}
	if body.MOTD != nil {
		s.settings.MOTD = *body.MOTD
	}
	if body.MaxMessageLength != nil {
		s.settings.MaxMessageLength = *body.MaxMessageLength
	}
	if body.MaxNickLength != nil {
		s.settings.MaxNickLength = *body.MaxNickLength
	}
	if body.FileTTL != nil {
		s.settings.FileTTLHours = *body.FileTTL
	}
	if body.MaxFiles != nil {
		s.settings.MaxFiles = *body.MaxFiles
	}
	if body.Disabled != nil {
		s.settings.Disabled = *body.Disabled
	}
	if body.Adult != nil {
		s.settings.Adult = *body.Adult
	}
	snapshot := s.settings
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: EventConfig, Data: snapshot})
	return nil
}

func (s *Session) handleSession(payload []byte) error {
	var token string
	if err := json.Unmarshal(payload, &token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// handleRoleFlag serves the owner/admin/staff/janitor envelopes, each
// carrying {"<role>": bool}.
func (s *Session) handleRoleFlag(payload []byte) error {
	var flags map[string]bool
	if err := json.Unmarshal(payload, &flags); err != nil {
		return err
	}
	s.mu.Lock()
	roles := s.roles
	if v, ok := flags["owner"]; ok {
		roles.Owner = v
	}
	if v, ok := flags["admin"]; ok {
		roles.Admin = v
	}
	if v, ok := flags["staff"]; ok {
		roles.Staff = v
	}
	if v, ok := flags["janitor"]; ok {
		roles.Janitor = v
	}
	s.roles = roles
	s.mu.Unlock()
	return nil
}

func (s *Session) handleChatName(payload []byte) error {
	var nick string
	if err := json.Unmarshal(payload, &nick); err != nil {
		return err
	}
	s.mu.Lock()
	s.nick = nick
	s.mu.Unlock()
	return nil
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
