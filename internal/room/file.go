package room

import (
	"encoding/json"
	"fmt"
	"time"
)

// Uploader identifies who uploaded a file; LoggedIn distinguishes
// authenticated-account uploads from anonymous ones.
type Uploader struct {
	Nick     string
	LoggedIn bool
}

// File is a derived file entity. Timestamps are absolute and already
// clock-corrected against the server at derivation time.
type File struct {
	ID       string
	Name     string
	Type     string
	Size     int64
	Expiry   time.Time
	Uploaded time.Time
	Uploader Uploader
	IP       string
	Assets   map[string]string
}

// Expired reports whether the file is past its expiry instant.
func (f *File) Expired() bool {
	return time.Now().After(f.Expiry)
}

// ValidFor returns the signed time remaining until expiry.
func (f *File) ValidFor() time.Duration {
	return time.Until(f.Expiry)
}

// URL renders the download URL for the file under a service base URL.
func (f *File) URL(base string) string {
	return fmt.Sprintf("%s/get/%s/%s", base, f.ID, f.Name)
}

type fileMeta struct {
	User         string            `json:"user"`
	UserLoggedIn bool              `json:"user_logged_in"`
	IP           string            `json:"ip"`
	Assets       map[string]string `json:"assets"`
}

// DeriveFile builds a File from one positional wire tuple
// [id, name, type, size, expiryMS, uploadMS, meta]. The delta argument is
// the session's server-minus-local clock correction, subtracted so stored
// instants are on the local clock.
func DeriveFile(raw json.RawMessage, delta time.Duration) (*File, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return nil, fmt.Errorf("room: file tuple: %w", err)
	}
	if len(tuple) < 6 {
		return nil, fmt.Errorf("room: file tuple has %d fields, want >= 6", len(tuple))
	}

	f := &File{}
	fields := []struct {
		idx int
		dst any
	}{
		{0, &f.ID},
		{1, &f.Name},
		{2, &f.Type},
		{3, &f.Size},
	}
	for _, fd := range fields {
		if err := json.Unmarshal(tuple[fd.idx], fd.dst); err != nil {
			return nil, fmt.Errorf("room: file tuple field %d: %w", fd.idx, err)
		}
	}
	if f.ID == "" {
		return nil, fmt.Errorf("room: file tuple missing id")
	}

	var expiryMS, uploadMS int64
	if err := json.Unmarshal(tuple[4], &expiryMS); err != nil {
		return nil, fmt.Errorf("room: file expiry: %w", err)
	}
	if err := json.Unmarshal(tuple[5], &uploadMS); err != nil {
		return nil, fmt.Errorf("room: file upload time: %w", err)
	}
	f.Expiry = time.UnixMilli(expiryMS).Add(-delta)
	f.Uploaded = time.UnixMilli(uploadMS).Add(-delta)

	if len(tuple) > 6 {
		var meta fileMeta
		if err := json.Unmarshal(tuple[6], &meta); err != nil {
			return nil, fmt.Errorf("room: file meta: %w", err)
		}
		f.Uploader = Uploader{Nick: meta.User, LoggedIn: meta.UserLoggedIn}
		f.IP = meta.IP
		f.Assets = meta.Assets
	}
	return f, nil
}
