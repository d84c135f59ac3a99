package room

// RoleFlags are the session's server-granted roles. Each flag is set
// independently by its own envelope; the record is replaced wholesale, never
// merged in place.
type RoleFlags struct {
	Owner   bool
	Admin   bool
	Staff   bool
	Janitor bool
}

// AdminLevel reports whether admin-gated operations are allowed.
func (r RoleFlags) AdminLevel() bool {
	return r.Owner || r.Admin
}

// JanitorLevel reports whether janitor-gated operations are allowed.
func (r RoleFlags) JanitorLevel() bool {
	return r.Owner || r.Admin || r.Janitor
}

// Settings is the server-supplied room configuration, merged from config
// envelopes as fields arrive.
type Settings struct {
	Name             string
	MOTD             string
	MaxMessageLength int
	MaxNickLength    int
	FileTTLHours     int
	MaxFiles         int
	Disabled         bool
	Adult            bool
}
