package builderstub

import (
	"errors"
	"time"
)

// ErrProjectNotFound is returned by every Store when an id is unknown or expired.
var ErrProjectNotFound = errors.New("project not found")

// Status represents the lifecycle state of a project build.
type Status string

const (
	StatusBuilding  Status = "building"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Project is the builder-side record of one build request.
type Project struct {
	ID          string    `json:"id"`
	AppType     string    `json:"app_type"`
	PackageName string    `json:"package_name"`
	Features    []string  `json:"features"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	ApkReady    bool      `json:"apk_ready"`
	ApkSize     int64     `json:"apk_size,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Summary is the condensed form listed by /api/projects.
type Summary struct {
	ID        string    `json:"id"`
	AppType   string    `json:"app_type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (p Project) summary() Summary {
	return Summary{ID: p.ID, AppType: p.AppType, Status: p.Status, CreatedAt: p.CreatedAt}
}
