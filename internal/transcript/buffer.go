package transcript

import "time"

// Side identifies which participant a transcript belongs to
type Side int

const (
	// SideUser is the local speaker's transcript
	SideUser Side = iota
	// SideAssistant is the model's transcript
	SideAssistant
)

// String returns the side name
func (s Side) String() string {
	if s == SideUser {
		return "user"
	}
	return "assistant"
}

// Entry is a single transcript line. At most one entry per buffer is
// live at any time; a live entry is replaced in place as deltas arrive
// and loses the live tag when finalized.
type Entry struct {
	Text       string    `json:"text"`
	Live       bool      `json:"live"`
	Sentinel   bool      `json:"sentinel,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Buffer accumulates transcript entries for one side of the
// conversation. It is not safe for concurrent use; the owner
// serializes access.
type Buffer struct {
	entries []Entry
	partial string
	now     func() time.Time
}

// NewBuffer creates an empty transcript buffer
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// AppendDelta extends the live entry with the given text, creating the
// live entry if none exists. Returns the updated live entry.
func (b *Buffer) AppendDelta(delta string) Entry {
	b.partial += delta
	entry := Entry{Text: b.partial, Live: true, Timestamp: b.now()}
	if n := len(b.entries); n > 0 && b.entries[n-1].Live {
		b.entries[n-1] = entry
	} else {
		b.entries = append(b.entries, entry)
	}
	return entry
}

// Finalize replaces the live entry with a finalized entry carrying the
// full text and clears the accumulation buffer. If no live entry
// exists, the finalized entry is appended.
func (b *Buffer) Finalize(text string) Entry {
	entry := Entry{Text: text, Timestamp: b.now()}
	if n := len(b.entries); n > 0 && b.entries[n-1].Live {
		b.entries[n-1] = entry
	} else {
		b.entries = append(b.entries, entry)
	}
	b.partial = ""
	return entry
}

// FinalizeScored finalizes the live entry with a confidence score
// attached.
func (b *Buffer) FinalizeScored(text string, confidence float64) Entry {
	entry := b.Finalize(text)
	entry.Confidence = confidence
	b.entries[len(b.entries)-1] = entry
	return entry
}

// Fail records a sentinel entry in place of the live entry, leaving
// prior entries untouched.
func (b *Buffer) Fail(message string) Entry {
	entry := Entry{Text: message, Sentinel: true, Timestamp: b.now()}
	if n := len(b.entries); n > 0 && b.entries[n-1].Live {
		b.entries[n-1] = entry
	} else {
		b.entries = append(b.entries, entry)
	}
	b.partial = ""
	return entry
}

// OpenLive creates an empty live entry (replacing any existing one)
// so the UI can show a placeholder before the first delta arrives.
func (b *Buffer) OpenLive(placeholder string) Entry {
	b.partial = ""
	entry := Entry{Text: placeholder, Live: true, Timestamp: b.now()}
	if n := len(b.entries); n > 0 && b.entries[n-1].Live {
		b.entries[n-1] = entry
	} else {
		b.entries = append(b.entries, entry)
	}
	return entry
}

// Live returns the current live entry, if any
func (b *Buffer) Live() (Entry, bool) {
	if n := len(b.entries); n > 0 && b.entries[n-1].Live {
		return b.entries[n-1], true
	}
	return Entry{}, false
}

// Entries returns a copy of all entries in order
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Reset discards all entries and the accumulation buffer
func (b *Buffer) Reset() {
	b.entries = nil
	b.partial = ""
}
