package models

// SessionStatus represents the status of a parse session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusParsing  SessionStatus = "parsing"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// FileStatus is the outcome of parsing a single file in a session.
type FileStatus string

const (
	FileStatusPending FileStatus = "pending"
	FileStatusParsing FileStatus = "parsing"
	FileStatusParsed  FileStatus = "parsed"
	FileStatusFailed  FileStatus = "failed"
)

// ParseSession represents a parsing session over one or more layer files.
type ParseSession struct {
	ID               string        `json:"id"`
	FileIDs          []string      `json:"fileIds"`
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	FeatureCount     int           `json:"featureCount"`
	WarningCount     int           `json:"warningCount"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	Files            []FileResult  `json:"files"`
	Error            string        `json:"error,omitempty"`
}

// FileResult reports how one file of a session was parsed.
// A failed file carries the structural error; its siblings are unaffected.
type FileResult struct {
	FileID       string              `json:"fileId"`
	Name         string              `json:"name"`
	Kind         FileKind            `json:"kind"`
	Status       FileStatus          `json:"status"`
	Units        string              `json:"units,omitempty"`
	FeatureCount int                 `json:"featureCount"`
	Counts       map[FeatureKind]int `json:"counts,omitempty"`
	Warnings     []ParseWarning      `json:"warnings,omitempty"`
	Error        *FileError          `json:"error,omitempty"`
}

// FileError describes why a file could not be parsed.
type FileError struct {
	Line    int    `json:"line,omitempty"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason"`
}

// NewParseSession creates a new ParseSession in pending status.
func NewParseSession(id string, fileIDs []string) *ParseSession {
	return &ParseSession{
		ID:       id,
		FileIDs:  fileIDs,
		Status:   SessionStatusPending,
		Progress: 0,
		Files:    make([]FileResult, 0, len(fileIDs)),
	}
}
