package system

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Profile describes the host the server runs on.
type Profile struct {
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	Kernel          string `json:"kernel,omitempty"`
	Arch            string `json:"arch"`
	Hostname        string `json:"hostname,omitempty"`
	Shell           string `json:"shell,omitempty"`
	WSL             bool   `json:"wsl"`
	CPUs            int    `json:"cpus"`
	MemoryTotal     uint64 `json:"memory_total,omitempty"`
	MemoryAvailable uint64 `json:"memory_available,omitempty"`
}

// Detect gathers the host profile. Probes that fail leave their fields empty;
// only a failure to read basic host information is returned.
func Detect(ctx context.Context) (*Profile, error) {
	profile := &Profile{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		CPUs: runtime.NumCPU(),
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return profile, err
	}
	profile.Platform = info.Platform
	profile.PlatformVersion = info.PlatformVersion
	profile.Kernel = info.KernelVersion
	profile.Hostname = info.Hostname
	if info.KernelArch != "" {
		profile.Arch = info.KernelArch
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		profile.MemoryTotal = vm.Total
		profile.MemoryAvailable = vm.Available
	}

	switch runtime.GOOS {
	case "windows":
		profile.Shell = detectWindowsShell()
	default:
		profile.Shell = os.Getenv("SHELL")
		profile.WSL = isWSL(profile.Kernel)
	}
	return profile, nil
}

// MissingBins returns the entries of bins that cannot be found on PATH.
func MissingBins(bins []string) []string {
	missing := []string{}
	for _, bin := range bins {
		if bin == "" {
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

func detectWindowsShell() string {
	if os.Getenv("PSModulePath") != "" {
		return "powershell"
	}
	if os.Getenv("ComSpec") != "" {
		return "cmd"
	}
	return "powershell"
}

func isWSL(kernel string) bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	if strings.Contains(strings.ToLower(kernel), "microsoft") {
		return true
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
