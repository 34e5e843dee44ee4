// Package notify gives a dispatch rule's notify_leader action a
// best-effort desktop toast alongside its inbox message. It is pure
// enrichment: every spec-required delivery already happened over the
// filesystem-backed inbox before a Notifier is ever consulted, and a
// failed or unsupported toast never surfaces as a dispatch failure.
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

const defaultAppID = "opencode-teams"

// DesktopNotifier shows a best-effort Windows toast. On any other GOOS,
// Notify shows nothing and returns an error (go-toast/toast has no other
// backend).
type DesktopNotifier struct {
	appID        string
	dashboardURL string
}

// NewDesktopNotifier builds a DesktopNotifier that links its toast's
// action back to dashboardURL (the internal/httpapi server, typically).
// An empty appID falls back to defaultAppID.
func NewDesktopNotifier(appID, dashboardURL string) *DesktopNotifier {
	if appID == "" {
		appID = defaultAppID
	}
	return &DesktopNotifier{appID: appID, dashboardURL: dashboardURL}
}

// Notify shows title/message as a toast. Returns an error on non-Windows
// hosts; callers (internal/dispatch) treat that as non-fatal.
func (d *DesktopNotifier) Notify(title, message string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("notify: desktop toasts are only supported on windows")
	}

	n := toast.Notification{
		AppID:   d.appID,
		Title:   title,
		Message: message,
		Audio:   toast.IM,
	}
	if d.dashboardURL != "" {
		n.Actions = []toast.Action{
			{Type: "protocol", Label: "Open dashboard", Arguments: d.dashboardURL},
		}
	}
	return n.Push()
}

// IsSupported reports whether this host can actually show a toast.
func (d *DesktopNotifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}
