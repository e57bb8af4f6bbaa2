package events

import "fmt"

// EventType is the closed taxonomy of security events. Only the filesystem
// collector produces events today; the remaining members are reserved for
// other collectors and must stay encodable.
type EventType int

const (
	// Filesystem
	FileCreated EventType = iota
	FileModified
	FileDeleted
	FileRenamed
	FilePermissionChanged
	DirectoryCreated
	DirectoryDeleted

	// Process
	ProcessStarted
	ProcessTerminated
	ProcessInjection
	DllLoaded
	ChildProcessCreated

	// Network
	NetworkConnectionEstablished
	NetworkConnectionClosed
	DnsQuery
	HttpRequest
	SuspiciousTraffic

	// Authentication
	LoginSuccess
	LoginFailure
	LogoutEvent
	PrivilegeEscalation
	PasswordChanged

	// Windows
	RegistryKeyCreated
	RegistryKeyModified
	RegistryKeyDeleted
	WindowsServiceStarted
	WindowsServiceStopped
	ScheduledTaskCreated

	// Linux
	CronJobCreated
	SudoUsage
	PackageInstalled
	KernelModuleLoaded
	SystemdServiceChanged

	// Security
	MalwareDetected
	SuspiciousCommand
	UnauthorizedAccess
	DataExfil
	AntiVirusAlert
	FireWallBlock

	// System
	SystemStartup
	SystemShutdown
	TimeChanged
	UserCreated
	UserDeleted
	GroupMembershipChanged

	eventTypeCount
)

// Category groups event types by the domain that produces them.
type Category string

const (
	CategoryFilesystem     Category = "filesystem"
	CategoryProcess        Category = "process"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryWindows        Category = "windows"
	CategoryLinux          Category = "linux"
	CategorySecurity       Category = "security"
	CategorySystem         Category = "system"
)

var eventTypeNames = [eventTypeCount]string{
	FileCreated:           "FileCreated",
	FileModified:          "FileModified",
	FileDeleted:           "FileDeleted",
	FileRenamed:           "FileRenamed",
	FilePermissionChanged: "FilePermissionChanged",
	DirectoryCreated:      "DirectoryCreated",
	DirectoryDeleted:      "DirectoryDeleted",

	ProcessStarted:      "ProcessStarted",
	ProcessTerminated:   "ProcessTerminated",
	ProcessInjection:    "ProcessInjection",
	DllLoaded:           "DllLoaded",
	ChildProcessCreated: "ChildProcessCreated",

	NetworkConnectionEstablished: "NetworkConnectionEstablished",
	NetworkConnectionClosed:      "NetworkConnectionClosed",
	DnsQuery:                     "DnsQuery",
	HttpRequest:                  "HttpRequest",
	SuspiciousTraffic:            "SuspiciousTraffic",

	LoginSuccess:        "LoginSuccess",
	LoginFailure:        "LoginFailure",
	LogoutEvent:         "LogoutEvent",
	PrivilegeEscalation: "PrivilegeEscalation",
	PasswordChanged:     "PasswordChanged",

	RegistryKeyCreated:    "RegistryKeyCreated",
	RegistryKeyModified:   "RegistryKeyModified",
	RegistryKeyDeleted:    "RegistryKeyDeleted",
	WindowsServiceStarted: "WindowsServiceStarted",
	WindowsServiceStopped: "WindowsServiceStopped",
	ScheduledTaskCreated:  "ScheduledTaskCreated",

	CronJobCreated:        "CronJobCreated",
	SudoUsage:             "SudoUsage",
	PackageInstalled:      "PackageInstalled",
	KernelModuleLoaded:    "KernelModuleLoaded",
	SystemdServiceChanged: "SystemdServiceChanged",

	MalwareDetected:    "MalwareDetected",
	SuspiciousCommand:  "SuspiciousCommand",
	UnauthorizedAccess: "UnauthorizedAccess",
	DataExfil:          "DataExfil",
	AntiVirusAlert:     "AntiVirusAlert",
	FireWallBlock:      "FireWallBlock",

	SystemStartup:          "SystemStartup",
	SystemShutdown:         "SystemShutdown",
	TimeChanged:            "TimeChanged",
	UserCreated:            "UserCreated",
	UserDeleted:            "UserDeleted",
	GroupMembershipChanged: "GroupMembershipChanged",
}

var eventTypeByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for i, name := range eventTypeNames {
		m[name] = EventType(i)
	}
	return m
}()

// AllEventTypes returns every member of the taxonomy in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, eventTypeCount)
	for i := EventType(0); i < eventTypeCount; i++ {
		out = append(out, i)
	}
	return out
}

// Valid reports whether t is a member of the taxonomy.
func (t EventType) Valid() bool {
	return t >= 0 && t < eventTypeCount
}

func (t EventType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// Category returns the domain group t belongs to.
func (t EventType) Category() Category {
	switch {
	case t <= DirectoryDeleted:
		return CategoryFilesystem
	case t <= ChildProcessCreated:
		return CategoryProcess
	case t <= SuspiciousTraffic:
		return CategoryNetwork
	case t <= PasswordChanged:
		return CategoryAuthentication
	case t <= ScheduledTaskCreated:
		return CategoryWindows
	case t <= SystemdServiceChanged:
		return CategoryLinux
	case t <= FireWallBlock:
		return CategorySecurity
	default:
		return CategorySystem
	}
}

// ParseEventType converts a member name such as "FileCreated" back into an
// EventType.
func ParseEventType(name string) (EventType, error) {
	if t, ok := eventTypeByName[name]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: unknown event type %q", ErrDecode, name)
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid event type %d", int(t))
	}
	return []byte(eventTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(text []byte) error {
	parsed, err := ParseEventType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
