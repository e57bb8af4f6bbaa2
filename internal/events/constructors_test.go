package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorHelpers(t *testing.T) {
	tests := []struct {
		name        string
		event       SecurityEvent
		eventType   EventType
		severity    Severity
		description string
		details     map[string]string
	}{
		{
			name:        "file",
			event:       FileEvent(FileCreated, "/tmp/suspicious_file.exe", "agent-001").Build(),
			eventType:   FileCreated,
			severity:    SeverityInfo,
			description: "File operation on /tmp/suspicious_file.exe",
			details:     map[string]string{"file_path": "/tmp/suspicious_file.exe"},
		},
		{
			name:        "process",
			event:       ProcessEvent(ProcessStarted, "powershell.exe", 1234, "agent-001").Build(),
			eventType:   ProcessStarted,
			severity:    SeverityInfo,
			description: "Process powershell.exe (PID: 1234)",
			details:     map[string]string{"process_name": "powershell.exe", "pid": "1234"},
		},
		{
			name:        "network",
			event:       NetworkEvent(NetworkConnectionEstablished, "192.168.1.100", "10.0.0.1:443", "agent-001").Build(),
			eventType:   NetworkConnectionEstablished,
			severity:    SeverityInfo,
			description: "Network connection 192.168.1.100 -> 10.0.0.1:443",
			details:     map[string]string{"local_address": "192.168.1.100", "remote_address": "10.0.0.1:443"},
		},
		{
			name:        "auth",
			event:       AuthEvent(LoginFailure, "admin", SeverityMedium, "agent-001").Build(),
			eventType:   LoginFailure,
			severity:    SeverityMedium,
			description: "Authentication event for user admin",
			details:     map[string]string{"Username": "admin"},
		},
		{
			name:        "registry with value",
			event:       RegistryEvent(RegistryKeyModified, `HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Windows\CurrentVersion\Run`, "MaliciousStartup", "agent-windows-001").Build(),
			eventType:   RegistryKeyModified,
			severity:    SeverityInfo,
			description: `Registry operation on HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Windows\CurrentVersion\Run`,
			details: map[string]string{
				"registry_path": `HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Windows\CurrentVersion\Run`,
				"value_name":    "MaliciousStartup",
			},
		},
		{
			name:        "registry without value",
			event:       RegistryEvent(RegistryKeyCreated, `HKCU\Software\Test`, "", "agent-windows-001").Build(),
			eventType:   RegistryKeyCreated,
			severity:    SeverityInfo,
			description: `Registry operation on HKCU\Software\Test`,
			details:     map[string]string{"registry_path": `HKCU\Software\Test`},
		},
		{
			name:        "linux",
			event:       LinuxSysEvent(SudoUsage, "User attempted sudo access", SeverityMedium, "agent-linux-001").Build(),
			eventType:   SudoUsage,
			severity:    SeverityMedium,
			description: "Linux system event: User attempted sudo access",
			details:     map[string]string{"system_details": "User attempted sudo access"},
		},
		{
			name:        "security alert",
			event:       SecurityAlert(MalwareDetected, "Trojan.Win32.Generic", SeverityCritical, "agent-001").Build(),
			eventType:   MalwareDetected,
			severity:    SeverityCritical,
			description: "Security alert: Trojan.Win32.Generic",
			details:     map[string]string{"threat_name": "Trojan.Win32.Generic", "alert_type": "security"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eventType, tt.event.EventType)
			assert.Equal(t, tt.severity, tt.event.Severity)
			assert.Equal(t, tt.description, tt.event.Description)
			assert.Equal(t, tt.details, tt.event.Details)
			assert.False(t, tt.event.Timestamp.IsZero())
		})
	}
}

func TestConstructorSourcePropagates(t *testing.T) {
	ev := FileEvent(FileDeleted, "/var/log/x", "agent-xyz").Build()
	assert.Equal(t, "agent-xyz", ev.Source)
}
