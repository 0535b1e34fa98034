package dispatch

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProjectContext identifies the host-app project the current tab is on.
type ProjectContext struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	DetectedAt time.Time `json:"detectedAt"`
}

// ProjectFromURL extracts the project id from a host tab URL of the form
// .../projects/<uuid>[/...]. Anything else means no project is open.
func ProjectFromURL(rawURL string) (ProjectContext, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ProjectContext{}, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p != "projects" || i+1 >= len(parts) {
			continue
		}
		id := parts[i+1]
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		return ProjectContext{ID: id, URL: rawURL, DetectedAt: time.Now()}, true
	}
	return ProjectContext{}, false
}
