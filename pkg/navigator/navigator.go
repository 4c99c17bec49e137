// Package navigator implements the navigator/battery surface the HOST
// binding exposes. There is no real battery hardware in a server/embedded host, so
// Battery reports a fixed "charging, full" reading — enough for scripts
// that branch on its shape without claiming a capability the host
// doesn't have.
package navigator

import "runtime"

// Brand is one entry of the user-agent client-hints brand list.
type Brand struct {
	Brand string
	Version string
}

// Info is the static navigator surface: user agent string, platform, and
// brand list.
type Info struct {
	UserAgent string
	Platform string
	Brands []Brand
}

// New builds Info for the current process, deriving Platform from
// runtime.GOOS the way a native host would report its OS instead of
// faking a browser platform string.
func New(version string) Info {
	return Info{
		UserAgent: "Andromeda/" + version + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")",
		Platform: platformName(),
		Brands: []Brand{
			{Brand: "Andromeda", Version: version},
		},
	}
}

func platformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

// Battery is the fixed battery-status snapshot reported by a host with
// no physical battery.
type Battery struct {
	Charging bool
	ChargingTime float64
	DischargingTime float64
	Level float64
}

// GetBattery returns the host's fixed battery reading.
func GetBattery() Battery {
	return Battery{Charging: true, ChargingTime: 0, DischargingTime: 0, Level: 1.0}
}
