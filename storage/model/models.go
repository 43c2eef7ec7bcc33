package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MeetingStatus describes the processing status of a meeting record
type MeetingStatus string

const (
	StatusProcessing MeetingStatus = "processing"
	StatusFailed     MeetingStatus = "failed"
	StatusSucceeded  MeetingStatus = "succeeded"
)

// Rank orders statuses so that a write for a less terminal state never
// replaces a more terminal one. Unknown statuses rank lowest.
func (s MeetingStatus) Rank() int {
	switch s {
	case StatusProcessing:
		return 1
	case StatusFailed:
		return 2
	case StatusSucceeded:
		return 3
	}
	return 0
}

// Terminal reports if no more polling is expected for the status
func (s MeetingStatus) Terminal() bool {
	return s == StatusFailed || s == StatusSucceeded
}

// JobStatus is the remote processing status, as reported by the gateway
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Meeting is the durable meeting record, primary key is EventId
type Meeting struct {
	EventId      string          `json:"event_id"`
	UserId       string          `json:"user_id"`
	Title        string          `json:"title"`
	Date         string          `json:"date"`       // YYYY-MM-DD
	StartTime    string          `json:"start_time"` // HH:MM[:SS]
	EndTime      string          `json:"end_time"`
	Organizer    string          `json:"organizer"`
	Source       string          `json:"source"`
	CategoryId   string          `json:"category_id"`
	BotId        string          `json:"bot_id"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	ActionPoints json.RawMessage `json:"action_points,omitempty"`
	Topics       json.RawMessage `json:"topics,omitempty"`
	Participants json.RawMessage `json:"participants,omitempty"`
	IsPublic     bool            `json:"is_public"`
	Status       MeetingStatus   `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StartsAt combines Date and StartTime, which are authoritative for ordering.
// Zero time is returned if the date can't be parsed.
func (m Meeting) StartsAt() time.Time {
	if m.Date == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, m.Date+" "+m.StartTime); err == nil {
			return t
		}
	}
	if t, err := time.Parse(time.DateOnly, m.Date); err == nil {
		return t
	}
	return time.Time{}
}

// Normalize drops empty blobs, so that records read back from the store
// compare equal to the ones written
func (m Meeting) Normalize() Meeting {
	for _, b := range []*json.RawMessage{&m.Summary, &m.ActionPoints, &m.Topics, &m.Participants} {
		if len(*b) == 0 || string(*b) == "null" {
			*b = nil
		}
	}
	return m
}

// SameContent compares two records ignoring UpdatedAt
func (m Meeting) SameContent(o Meeting) bool {
	a, b := m.Normalize(), o.Normalize()
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a.EventId == b.EventId && a.UserId == b.UserId && a.Title == b.Title &&
		a.Date == b.Date && a.StartTime == b.StartTime && a.EndTime == b.EndTime &&
		a.Organizer == b.Organizer && a.Source == b.Source && a.CategoryId == b.CategoryId &&
		a.BotId == b.BotId && string(a.Summary) == string(b.Summary) &&
		string(a.ActionPoints) == string(b.ActionPoints) && string(a.Topics) == string(b.Topics) &&
		string(a.Participants) == string(b.Participants) && a.IsPublic == b.IsPublic &&
		a.Status == b.Status && a.ErrorMessage == b.ErrorMessage
}

// MeetingSummary is an entry of the remote meeting list
type MeetingSummary struct {
	EventId   string `json:"event_id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

// MeetingsPage - json response of the meeting list endpoint
type MeetingsPage struct {
	Meetings []MeetingSummary `json:"meetings"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
}

// MeetingFilter narrows the remote meeting list
type MeetingFilter struct {
	PageSize   int
	Page       int
	CategoryId string
	From       string // YYYY-MM-DD
	To         string
}

// MeetingPatch holds user edits, nil fields are left untouched
type MeetingPatch struct {
	Title      *string `json:"title,omitempty"`
	CategoryId *string `json:"category_id,omitempty"`
	IsPublic   *bool   `json:"is_public,omitempty"`
}

// Apply copies the set fields of the patch to the meeting
func (p MeetingPatch) Apply(m *Meeting) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.CategoryId != nil {
		m.CategoryId = *p.CategoryId
	}
	if p.IsPublic != nil {
		m.IsPublic = *p.IsPublic
	}
}

// UploadTarget is a one-time, self-authorized upload location
type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	FileRef   string `json:"file_ref"`
}

// RemoteFileRef points to an uploaded artifact
type RemoteFileRef struct {
	FileRef string   `json:"file_ref"`
	Size    FileSize `json:"size"`
}

// SubmitRequest asks the remote service to process an uploaded artifact
type SubmitRequest struct {
	FileRef string `json:"file_ref"`
	Title   string `json:"title"`
}

// JobTicket is returned when a processing job is accepted
type JobTicket struct {
	EventId string `json:"event_id"`
}

// StatusReport - json response of the job status endpoint
type StatusReport struct {
	Status       JobStatus       `json:"status"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Terminal is true only when the status is final AND its content is written.
// The status flips before the summary or message lands, so status alone is not enough.
func (r StatusReport) Terminal() bool {
	if r.Status != JobSuccess && r.Status != JobFailed {
		return false
	}
	hasSummary := len(r.Summary) > 0 && string(r.Summary) != "null" && string(r.Summary) != `""`
	return hasSummary || r.ErrorMessage != ""
}

// PendingMarker is the durable breadcrumb of a submitted job being watched
type PendingMarker struct {
	EventId     string    `json:"event_id"`
	UserId      string    `json:"user_id"`
	Title       string    `json:"title"`
	Large       bool      `json:"large"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SyncResult describes one cache synchronization pass
type SyncResult struct {
	UserId    string        `json:"user_id"`
	Local     int           `json:"local"`
	Remote    int           `json:"remote"`
	Missing   int           `json:"missing"`
	Saved     int           `json:"saved"`
	Failed    int           `json:"failed"`
	Offline   bool          `json:"offline"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// FileSize describes the file size
type FileSize int64

// String returns the string representation of the file size
// in human readable format
func (f FileSize) String() string {
	const unit = 1024
	if f < unit {
		return fmt.Sprintf("%d B", f)
	}
	div, exp := int64(unit), 0
	for n := f / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(f)/float64(div), "KMGTPE"[exp])
}

// MarshalJSON implements the json.Marshaler interface for FileSize
func (f FileSize) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, `"%s"`, f.String()), nil
}

// UnmarshalJSON accepts both "94.72 GB" strings and plain numbers
func (f *FileSize) UnmarshalJSON(data []byte) error {
	var usage string
	if err := json.Unmarshal(data, &usage); err != nil {
		var n int64
		if nErr := json.Unmarshal(data, &n); nErr != nil {
			return err
		}
		*f = FileSize(n)
		return nil
	}

	bytes, err := ParseFileSize(usage)
	if err != nil {
		return err
	}

	*f = FileSize(bytes)
	return nil
}

// UnmarshalYAML lets config files use "50 MB" as well as byte counts
func (f *FileSize) UnmarshalYAML(value *yaml.Node) error {
	bytes, err := ParseFileSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*f = FileSize(bytes)
	return nil
}

// ParseFileSize parses "1.2 TB", "50MB", "0" into bytes
func ParseFileSize(usage string) (int64, error) {
	usage = strings.TrimSpace(usage)
	// allow "50MB" without a space
	if i := strings.IndexFunc(usage, func(r rune) bool { return r >= 'A' && r <= 'z' }); i > 0 && usage[i-1] != ' ' {
		usage = usage[:i] + " " + usage[i:]
	}
	parts := strings.Fields(usage)
	if len(parts) < 1 {
		return 0, fmt.Errorf("invalid format: %s", usage)
	}

	value, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}

	if len(parts) < 2 {
		return int64(value), nil
	}

	unit := strings.ToUpper(parts[1])
	switch unit {
	case "B", "BYTES":
		return int64(value), nil
	case "KB":
		return int64(value * 1024), nil
	case "MB":
		return int64(value * 1024 * 1024), nil
	case "GB":
		return int64(value * 1024 * 1024 * 1024), nil
	case "TB":
		return int64(value * 1024 * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
