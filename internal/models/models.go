package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Enums
type Orientation string

const (
	OrientationVertical   Orientation = "vertical"
	OrientationHorizontal Orientation = "horizontal"
)

type JobType string

const (
	JobTypeShort  JobType = "short"
	JobTypeLong   JobType = "long"
	JobTypeCustom JobType = "custom"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeShort, JobTypeLong, JobTypeCustom:
		return true
	}
	return false
}

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidJobID reports whether id is safe to use in file and directory names.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// DefaultOrientation is vertical for everything except long-form jobs.
func (t JobType) DefaultOrientation() Orientation {
	if t == JobTypeLong {
		return OrientationHorizontal
	}
	return OrientationVertical
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// ---------------------------------------------------------------------------
// Scenes and produced assets
// ---------------------------------------------------------------------------

type Scene struct {
	Number            int              `json:"scene_number"`               // 1-based ordinal
	ID                string           `json:"scene_id,omitempty"`         // Optional stable identifier
	Index             *int             `json:"scene_index,omitempty"`      // Optional explicit 0-based index
	Duration          float64          `json:"duration"`                   // Target duration in seconds
	Text              string           `json:"speaker_text"`               // Narration
	VisualDescription string           `json:"visual_description"`         // Prompt for the image generator
	ImageURL          string           `json:"image_url,omitempty"`        // Local path or remote URL
	AudioURL          string           `json:"audio_url,omitempty"`        // Set once audio is resolved
	Captions          []CaptionSegment `json:"captions,omitempty"`         // Set once captions are validated
	Orientation       Orientation      `json:"orientation,omitempty"`
}

// SceneRef is the single identity carried by every produced asset.
// Index is zero-based, Number is one-based; either may be absent.
type SceneRef struct {
	ID     string `json:"scene_id,omitempty"`
	Index  *int   `json:"scene_index,omitempty"`
	Number *int   `json:"scene_number,omitempty"`
}

// ExplicitIndex returns the zero-based scene index the reference declares,
// preferring Index over Number. ok is false when neither is usable.
func (r SceneRef) ExplicitIndex() (idx int, ok bool) {
	if r.Index != nil && *r.Index >= 0 {
		return *r.Index, true
	}
	if r.Number != nil && *r.Number >= 1 {
		return *r.Number - 1, true
	}
	return 0, false
}

// Empty reports whether the reference carries no identity at all.
func (r SceneRef) Empty() bool {
	_, ok := r.ExplicitIndex()
	return r.ID == "" && !ok
}

func (r SceneRef) String() string {
	switch {
	case r.ID != "":
		return "id=" + r.ID
	case r.Index != nil:
		return fmt.Sprintf("index=%d", *r.Index)
	case r.Number != nil:
		return fmt.Sprintf("number=%d", *r.Number)
	}
	return "unreferenced"
}

// Provenance records which engine produced an asset and whether it is a stand-in.
type Provenance struct {
	Engine   string `json:"engine,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

type CaptionSegment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Asset is implemented by every produced per-scene result. Methods are safe on nil receivers.
type Asset interface {
	Identity() SceneRef
	AssetText() string
	Valid() bool
}

type AudioAsset struct {
	Ref        SceneRef   `json:"ref"`
	URL        string     `json:"url"`
	Text       string     `json:"text"`
	Duration   float64    `json:"duration"` // seconds
	Provenance Provenance `json:"provenance"`
}

func (a *AudioAsset) Identity() SceneRef {
	if a == nil {
		return SceneRef{}
	}
	return a.Ref
}

func (a *AudioAsset) AssetText() string {
	if a == nil {
		return ""
	}
	return a.Text
}

func (a *AudioAsset) Valid() bool { return a != nil }

type CaptionAsset struct {
	Ref        SceneRef         `json:"ref"`
	Text       string           `json:"text,omitempty"`
	Segments   []CaptionSegment `json:"segments"`
	Provenance Provenance       `json:"provenance"`
}

func (c *CaptionAsset) Identity() SceneRef {
	if c == nil {
		return SceneRef{}
	}
	return c.Ref
}

// AssetText returns the declared text, or the segment texts joined when none was declared.
func (c *CaptionAsset) AssetText() string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	var text string
	for i, seg := range c.Segments {
		if i > 0 {
			text += " "
		}
		text += seg.Text
	}
	return text
}

func (c *CaptionAsset) Valid() bool { return c != nil }

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// SubtitleStyle controls burned-in captions. Zero values fall back to the job type's defaults.
type SubtitleStyle struct {
	FontName     string `json:"font_name,omitempty"`
	FontSize     int    `json:"font_size,omitempty"`
	PrimaryColor string `json:"primary_color,omitempty"` // #RRGGBB
	OutlineColor string `json:"outline_color,omitempty"` // #RRGGBB
	BoxColor     string `json:"box_color,omitempty"`     // #RRGGBB
	Box          *bool  `json:"box,omitempty"`
}

type JobRequest struct {
	ID              string          `json:"id,omitempty"`
	Type            JobType         `json:"type"`
	Title           string          `json:"title"`
	Topic           string          `json:"topic,omitempty"`
	Scenes          []Scene         `json:"scenes,omitempty"`
	Voice           string          `json:"voice,omitempty"`
	Orientation     Orientation     `json:"orientation,omitempty"`
	Language        string          `json:"language,omitempty"`
	BackgroundMusic string          `json:"background_music,omitempty"`
	SubtitleStyle   *SubtitleStyle  `json:"subtitle_style,omitempty"`
	AudioResults    []*AudioAsset   `json:"audio_results,omitempty"`
	CaptionResults  []*CaptionAsset `json:"caption_results,omitempty"`
	Metadata        JSONB           `json:"metadata,omitempty"`
}

type JobResult struct {
	VideoURL    string    `json:"video_url"`
	Duration    float64   `json:"duration"`
	ScenesCount int       `json:"scenes_count"`
	Resolution  string    `json:"resolution"`
	Status      JobStatus `json:"status"`
}

type VideoJob struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Title       string     `json:"title"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	AddedAt     time.Time  `json:"added_time"`
	StartedAt   *time.Time `json:"started_time,omitempty"`
	EndedAt     *time.Time `json:"ended_time,omitempty"`
	Metadata    JSONB      `json:"metadata,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// HistoryEntry is a terminal job as kept in the bounded history.
type HistoryEntry struct {
	VideoJob
	DurationMs int64 `json:"duration_ms"`
}

type QueueStats struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"max_concurrent"`
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	Total         int `json:"total"`
}

type QueueStatus struct {
	ActiveJob *VideoJob  `json:"active_job"`
	Queue     []VideoJob `json:"queue"`
	Stats     QueueStats `json:"stats"`
}

// SnapshotStats holds the counters that survive a restart.
type SnapshotStats struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// QueueSnapshot is the durable view of a job queue. Pending entries carry metadata only.
type QueueSnapshot struct {
	Queue       []VideoJob     `json:"queue"`
	History     []HistoryEntry `json:"history"`
	Stats       SnapshotStats  `json:"stats"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

func (s QueueSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *QueueSnapshot) Scan(value interface{}) error {
	if value == nil {
		*s = QueueSnapshot{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported snapshot column type %T", value)
	}
	return json.Unmarshal(data, s)
}

// DTOs for API responses
type SubmitJobResponse struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	QueuePosition int       `json:"queue_position"`
}

type CountResponse struct {
	ClearedCount int `json:"cleared_count"`
}
