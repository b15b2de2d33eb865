package studio

import (
	"github.com/rahl/studio/pkg/session"
)

// View is the presentation of a session served to the browser. Error only
// ever carries the generic failure text; causes stay in the server log.
type View struct {
	Status      session.Status `json:"status"`
	Description string         `json:"description,omitempty"`
	Attempt     uint64         `json:"attempt,omitempty"`
	ProjectID   string         `json:"project_id,omitempty"`
	DownloadURL string         `json:"download_url,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Busy reports whether the submit control should be disabled.
func (v View) Busy() bool {
	return v.Status == session.StatusSubmitting
}

func viewOf(c *session.Controller, state session.State) View {
	switch s := state.(type) {
	case session.Submitting:
		return View{Status: s.Status(), Description: s.Description, Attempt: s.Attempt}
	case session.Succeeded:
		return View{
			Status:      s.Status(),
			Description: s.Description,
			Attempt:     s.Attempt,
			ProjectID:   s.Result.ProjectID,
			DownloadURL: c.DownloadLocationFor(s.Result),
		}
	case session.Failed:
		return View{
			Status:      s.Status(),
			Description: s.Description,
			Attempt:     s.Attempt,
			Error:       session.ErrBuildFailed.Error(),
		}
	default:
		return View{Status: session.StatusIdle}
	}
}
