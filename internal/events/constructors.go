package events

import (
	"fmt"
	"strconv"
)

// Detail keys seeded by the constructor helpers.
const (
	KeyFilePath      = "file_path"
	KeyFileExtension = "file_extension"
	KeyEventKind     = "event_kind"
	KeyProcessName   = "process_name"
	KeyPID           = "pid"
	KeyLocalAddress  = "local_address"
	KeyRemoteAddress = "remote_address"
	KeyUsername      = "Username"
	KeyRegistryPath  = "registry_path"
	KeyValueName     = "value_name"
	KeySystemDetails = "system_details"
	KeyThreatName    = "threat_name"
	KeyAlertType     = "alert_type"
)

// FileEvent describes an operation on a file.
func FileEvent(eventType EventType, filePath, source string) *Builder {
	return New(eventType, SeverityInfo, source, fmt.Sprintf("File operation on %s", filePath)).
		Detail(KeyFilePath, filePath)
}

// ProcessEvent describes process activity.
func ProcessEvent(eventType EventType, processName string, pid uint32, source string) *Builder {
	return New(eventType, SeverityInfo, source, fmt.Sprintf("Process %s (PID: %d)", processName, pid)).
		Detail(KeyProcessName, processName).
		Detail(KeyPID, strconv.FormatUint(uint64(pid), 10))
}

// NetworkEvent describes a connection between two endpoints.
func NetworkEvent(eventType EventType, localAddr, remoteAddr, source string) *Builder {
	return New(eventType, SeverityInfo, source, fmt.Sprintf("Network connection %s -> %s", localAddr, remoteAddr)).
		Detail(KeyLocalAddress, localAddr).
		Detail(KeyRemoteAddress, remoteAddr)
}

// AuthEvent describes an authentication outcome for a user.
func AuthEvent(eventType EventType, username string, severity Severity, source string) *Builder {
	return New(eventType, severity, source, fmt.Sprintf("Authentication event for user %s", username)).
		Detail(KeyUsername, username)
}

// RegistryEvent describes a registry operation. An empty valueName is
// treated as absent and not recorded.
func RegistryEvent(eventType EventType, registryPath, valueName, source string) *Builder {
	b := New(eventType, SeverityInfo, source, fmt.Sprintf("Registry operation on %s", registryPath)).
		Detail(KeyRegistryPath, registryPath)
	if valueName != "" {
		b.Detail(KeyValueName, valueName)
	}
	return b
}

// LinuxSysEvent describes a Linux system event.
func LinuxSysEvent(eventType EventType, details string, severity Severity, source string) *Builder {
	return New(eventType, severity, source, fmt.Sprintf("Linux system event: %s", details)).
		Detail(KeySystemDetails, details)
}

// SecurityAlert describes a detected threat.
func SecurityAlert(eventType EventType, threatName string, severity Severity, source string) *Builder {
	return New(eventType, severity, source, fmt.Sprintf("Security alert: %s", threatName)).
		Detail(KeyThreatName, threatName).
		Detail(KeyAlertType, "security")
}
