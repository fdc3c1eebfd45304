package models

import "time"

// FileInfo describes an uploaded features or profile file. Name is the
// display path (e.g. "steps/pcb/layers/top/features") that layer rules and
// kind detection match against.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // storage.Status*: uploaded, parsing, parsed, error
}
