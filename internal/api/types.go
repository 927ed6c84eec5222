package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StreamStatus describes one capture.
type StreamStatus struct {
	Name                string `json:"name"`
	Frames              uint64 `json:"frames"`
	Dropped             uint64 `json:"dropped"`
	Restarts            uint64 `json:"restarts"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Closed              bool   `json:"closed"`
	LastFrameAt         string `json:"lastFrameAt,omitempty"`
}

// PipelineStatus summarizes the detection loop.
type PipelineStatus struct {
	Running           bool           `json:"running"`
	Frames            uint64         `json:"frames"`
	FPS               float64        `json:"fps"`
	FrameIntervalMS   float64        `json:"frameIntervalMs"`
	FrameJitterMS     float64        `json:"frameJitterMs"`
	Live              int            `json:"live"`
	CachedFrames      int            `json:"cachedFrames"`
	Evicted           uint64         `json:"evicted"`
	Reported          uint64         `json:"reported"`
	Queued            int            `json:"queued"`
	QueueCapacity     int            `json:"queueCapacity"`
	DroppedEvictions  uint64         `json:"droppedEvictions"`
	Crossings         uint64         `json:"crossings"`
	PlatesRead        uint64         `json:"platesRead"`
	DetectorErrors    uint64         `json:"detectorErrors"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	LastError         string         `json:"lastError,omitempty"`
	Streams           []StreamStatus `json:"streams"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	RunID        string             `json:"runId,omitempty"`
	StartedAt    string             `json:"startedAt,omitempty"`
	LockFilePath string             `json:"lockFilePath"`
	LogPath      string             `json:"logPath,omitempty"`
	JournalPath  string             `json:"journalPath,omitempty"`
	Pipeline     PipelineStatus     `json:"pipeline"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// CrossingEvent is a journaled crossing.
type CrossingEvent struct {
	ID         string `json:"id"`
	TrackID    int64  `json:"trackId"`
	Action     string `json:"action"`
	Side       string `json:"side,omitempty"`
	Plate      string `json:"plate,omitempty"`
	CrossedAt  string `json:"crossedAt,omitempty"`
	FirstSeen  string `json:"firstSeen,omitempty"`
	LastSeen   string `json:"lastSeen,omitempty"`
	Samples    int    `json:"samples"`
	CropPath   string `json:"cropPath,omitempty"`
	RecordedAt string `json:"recordedAt,omitempty"`
}

// EventListResponse wraps recent crossings.
type EventListResponse struct {
	Events []CrossingEvent `json:"events"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NotificationResponse reports the outcome of a test notification.
type NotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
