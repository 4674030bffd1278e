//go:build linux

package window

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// linuxQuery reads the focused window on Linux. X11 sessions use
// xdotool or xprop; GNOME Wayland sessions use the Shell Introspect
// DBus interface.
type linuxQuery struct {
	displayType string
}

func newPlatformQuery() Query {
	return &linuxQuery{displayType: detectDisplay()}
}

// detectDisplay determines the display server type.
func detectDisplay() string {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if os.Getenv("DISPLAY") != "" {
			return "x11" // XWayland
		}
		return "wayland"
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11"
	}
	return "unknown"
}

// Available checks if window queries work in this session.
func (q *linuxQuery) Available() (bool, string) {
	switch q.displayType {
	case "x11":
		if _, err := exec.LookPath("xdotool"); err == nil {
			return true, "X11 window tracking available (xdotool)"
		}
		if _, err := exec.LookPath("xprop"); err == nil {
			return true, "X11 window tracking available (xprop)"
		}
		return false, "X11 detected but xdotool/xprop not found. Install: sudo apt install xdotool"

	case "wayland":
		if _, err := q.gnomeActiveWindow(); err == nil {
			return true, "Wayland window tracking available (GNOME Shell Introspect)"
		}
		return false, "Wayland detected but no supported compositor interface found"

	default:
		return false, "unknown display server"
	}
}

// Active returns the focused window.
func (q *linuxQuery) Active() (*Info, error) {
	switch q.displayType {
	case "x11":
		if info, err := q.x11ActiveXdotool(); err == nil {
			return info, nil
		}
		return q.x11ActiveXprop()
	case "wayland":
		return q.gnomeActiveWindow()
	default:
		return nil, ErrNotAvailable
	}
}

// x11ActiveXdotool uses xdotool to read the focused window.
func (q *linuxQuery) x11ActiveXdotool() (*Info, error) {
	out, err := exec.Command("xdotool", "getactivewindow").Output()
	if err != nil {
		return nil, err
	}
	windowID := strings.TrimSpace(string(out))

	info := &Info{Timestamp: time.Now()}

	if out, err := exec.Command("xdotool", "getwindowname", windowID).Output(); err == nil {
		info.Title = strings.TrimSpace(string(out))
	}

	if out, err := exec.Command("xdotool", "getwindowpid", windowID).Output(); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil {
			info.Application = procName(pid)
		}
	}

	return info, nil
}

// x11ActiveXprop uses xprop as a fallback.
func (q *linuxQuery) x11ActiveXprop() (*Info, error) {
	out, err := exec.Command("xprop", "-root", "_NET_ACTIVE_WINDOW").Output()
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(string(out))
	if len(parts) < 5 {
		return nil, errors.New("failed to parse xprop output")
	}
	windowID := parts[len(parts)-1]

	info := &Info{Timestamp: time.Now()}

	out, err = exec.Command("xprop", "-id", windowID, "WM_NAME", "WM_CLASS", "_NET_WM_PID").Output()
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "WM_NAME"):
			// WM_NAME(STRING) = "Document - App"
			if idx := strings.Index(line, "= \""); idx != -1 {
				end := strings.LastIndex(line, "\"")
				if end > idx+3 {
					info.Title = line[idx+3 : end]
				}
			}
		case strings.HasPrefix(line, "WM_CLASS"):
			// WM_CLASS(STRING) = "instance", "class"
			if idx := strings.Index(line, ", \""); idx != -1 {
				end := strings.LastIndex(line, "\"")
				if end > idx+3 {
					info.Application = line[idx+3 : end]
				}
			}
		case strings.HasPrefix(line, "_NET_WM_PID"):
			if idx := strings.Index(line, "= "); idx != -1 {
				if pid, err := strconv.Atoi(strings.TrimSpace(line[idx+2:])); err == nil {
					if info.Application == "" {
						info.Application = procName(pid)
					}
				}
			}
		}
	}

	return info, nil
}

// gnomeActiveWindow queries GNOME Shell over DBus for the focused window.
func (q *linuxQuery) gnomeActiveWindow() (*Info, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object("org.gnome.Shell", "/org/gnome/Shell/Introspect")

	var windows map[uint64]map[string]dbus.Variant
	if err := obj.Call("org.gnome.Shell.Introspect.GetWindows", 0).Store(&windows); err != nil {
		return nil, err
	}

	for _, props := range windows {
		focusVar, ok := props["has-focus"]
		if !ok {
			continue
		}
		focused, _ := focusVar.Value().(bool)
		if !focused {
			continue
		}

		info := &Info{Timestamp: time.Now()}
		if v, ok := props["title"]; ok {
			info.Title, _ = v.Value().(string)
		}
		if v, ok := props["wm-class"]; ok {
			info.Application, _ = v.Value().(string)
		}
		if info.Application == "" {
			if v, ok := props["app-id"]; ok {
				info.Application, _ = v.Value().(string)
			}
		}
		return info, nil
	}

	return nil, errors.New("no focused window reported")
}

// procName returns the short process name for a PID.
func procName(pid int) string {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
