package filemon

import (
	"path/filepath"
	"strings"

	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/lvonguyen/edrsensor/internal/watch"
)

var (
	suspiciousExtensions = []string{".exe", ".bat", ".cmd", ".ps1", ".vbs", ".scr", ".dll"}
	suspiciousNames      = []string{"autorun.inf", "desktop.ini"}
)

// IsSuspicious reports whether a newly created file deserves elevated
// severity. The check looks at the name only: executable and script
// extensions, and autorun.inf / desktop.ini anywhere in the path, compared
// case-insensitively. Size, content and hashes are never consulted, so
// renamed payloads pass unnoticed.
func IsSuspicious(path string) bool {
	lower := strings.ToLower(path)

	for _, ext := range suspiciousExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	for _, name := range suspiciousNames {
		if strings.Contains(lower, name) {
			return true
		}
	}

	return false
}

// Classify maps a raw notification to a security event. The second result is
// false when the notification carries no path or is not a create, modify or
// remove; such notifications are dropped rather than reported.
func Classify(raw watch.RawEvent, agentID string) (events.SecurityEvent, bool) {
	if len(raw.Paths) == 0 {
		return events.SecurityEvent{}, false
	}
	path := raw.Paths[0]

	var (
		eventType events.EventType
		severity  = events.SeverityInfo
	)
	switch raw.Kind {
	case watch.KindCreate:
		eventType = events.FileCreated
		if IsSuspicious(path) {
			severity = events.SeverityHigh
		}
	case watch.KindModify:
		eventType = events.FileModified
	case watch.KindRemove:
		eventType = events.FileDeleted
	default:
		return events.SecurityEvent{}, false
	}

	ev := events.FileEvent(eventType, path, agentID).
		Detail(events.KeyEventKind, raw.String()).
		Detail(events.KeyFileExtension, fileExtension(path)).
		Severity(severity).
		Build()

	return ev, true
}

// fileExtension returns the extension without its dot, or "unknown". A
// leading dot on the base name (".bashrc") does not start an extension, and
// a trailing dot ("trailing.") yields "unknown" rather than an empty string.
func fileExtension(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if len(ext) <= 1 || ext == base {
		return "unknown"
	}
	return ext[1:]
}
