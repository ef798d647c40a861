package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrNoLAN is returned when no interface can reach a broadcast segment.
var ErrNoLAN = errors.New("no broadcast-capable IPv4 interface")

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information. Fields gopsutil cannot read
// are left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}
	return info
}

// HostLoad is a point-in-time reading of host utilisation.
type HostLoad struct {
	CPUPercent        float64       `json:"cpu_percent"`
	MemoryUsedPercent float64       `json:"memory_used_percent"`
	MemoryAvailableMB uint64        `json:"memory_available_mb"`
	Uptime            time.Duration `json:"uptime_ns"`
}

// GetHostLoad samples CPU, memory and uptime. The CPU figure is measured
// since the previous call.
func GetHostLoad() (HostLoad, error) {
	var load HostLoad

	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return load, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percentages) > 0 {
		load.CPUPercent = percentages[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return load, fmt.Errorf("memory usage: %w", err)
	}
	load.MemoryUsedPercent = memInfo.UsedPercent
	load.MemoryAvailableMB = memInfo.Available / (1024 * 1024)

	if secs, err := host.Uptime(); err == nil {
		load.Uptime = time.Duration(secs) * time.Second
	}
	return load, nil
}

// LANInterface is the local IPv4 address on a broadcast segment.
type LANInterface struct {
	Name      string
	IP        net.IP
	Broadcast net.IP
}

// FindLAN returns the first up, non-loopback interface that supports
// broadcast and carries an IPv4 address.
func FindLAN() (LANInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return LANInterface{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if lan, ok := lanFromNet(iface.Name, ipNet); ok {
				return lan, nil
			}
		}
	}
	return LANInterface{}, ErrNoLAN
}

func lanFromNet(name string, ipNet *net.IPNet) (LANInterface, bool) {
	ip4 := ipNet.IP.To4()
	if ip4 == nil || len(ipNet.Mask) != net.IPv4len {
		return LANInterface{}, false
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range ip4 {
		bcast[i] = ip4[i] | ^ipNet.Mask[i]
	}
	return LANInterface{Name: name, IP: ip4, Broadcast: bcast}, true
}

// GetLocalIP returns the LAN address, falling back to 127.0.0.1 when the
// host has no broadcast-capable interface.
func GetLocalIP() (string, error) {
	lan, err := FindLAN()
	if errors.Is(err, ErrNoLAN) {
		return "127.0.0.1", nil
	}
	if err != nil {
		return "", err
	}
	return lan.IP.String(), nil
}
