package secret

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// HostFingerprint returns a stable identifier for the current machine. It
// binds a sealed secret file to the host it was provisioned on.
func HostFingerprint() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return macOSPlatformUUID()
	case "linux":
		return linuxMachineID()
	case "windows":
		return windowsProductUUID()
	default:
		return "", errors.New("secret: no host fingerprint on " + runtime.GOOS)
	}
}

func macOSPlatformUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 && parts[3] != "" {
			return parts[3], nil
		}
	}
	return "", errors.New("secret: no IOPlatformUUID found")
}

func linuxMachineID() (string, error) {
	for _, path := range []string{
		"/etc/machine-id",
		"/var/lib/dbus/machine-id",
		"/sys/class/dmi/id/product_uuid",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", errors.New("secret: no machine id found")
}

func windowsProductUUID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		s := strings.TrimSpace(string(line))
		if s != "" && !strings.EqualFold(s, "UUID") {
			return s, nil
		}
	}
	return "", errors.New("secret: no product UUID found")
}
