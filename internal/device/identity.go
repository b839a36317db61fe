// Package device resolves this installation's stable identity and
// descriptive fields for the device registry.
package device

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/syncbox/internal/store"
)

// ClientName is reported as the "browser" field of the device record;
// the wire contract predates native clients and kept the browser slot.
const ClientName = "syncboxd"

// ResolveID returns the stable per-install device id, generating and
// persisting it on first call. The id survives restarts and never changes
// for the lifetime of the profile.
func ResolveID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		// Unparseable file: fall through and mint a fresh id.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// Describe stamps OS/hostname heuristics into a DeviceInfo for registration.
func Describe() store.DeviceInfo {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	return store.DeviceInfo{
		Name:    hostname,
		Type:    "desktop",
		OS:      osName(),
		Browser: ClientName,
	}
}

func osName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return runtime.GOOS
	}
}
