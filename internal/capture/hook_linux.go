//go:build linux

package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// LinuxHook reads key events from /dev/input on Linux.
type LinuxHook struct {
	BaseHook
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	devices []string
}

func newPlatformHook() Hook {
	return &LinuxHook{}
}

// Available checks if we can read input devices.
func (l *LinuxHook) Available() (bool, string) {
	devices, err := findKeyboardDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("found keyboard device: %s", dev)
		}
	}

	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// findKeyboardDevices finds /dev/input devices that are keyboards.
func findKeyboardDevices() ([]string, error) {
	var devices []string

	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var currentHandler string
	isKeyboard := false

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "H: Handlers=") {
			parts := strings.Fields(line)
			for _, part := range parts {
				if strings.HasPrefix(part, "event") {
					currentHandler = "/dev/input/" + part
				}
			}
		}

		if strings.HasPrefix(line, "B: KEY=") {
			// Devices with key capabilities are likely keyboards.
			if len(line) > 10 {
				isKeyboard = true
			}
		}

		if line == "" {
			if isKeyboard && currentHandler != "" {
				devices = append(devices, currentHandler)
			}
			currentHandler = ""
			isKeyboard = false
		}
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-kbd")
	devices = append(devices, matches...)

	return devices, nil
}

// Start begins reading key events from every readable keyboard device.
func (l *LinuxHook) Start(ctx context.Context) error {
	if l.IsRunning() {
		return ErrAlreadyRunning
	}

	devices, err := findKeyboardDevices()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	l.devices = devices
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.SetRunning(true)

	started := 0
	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err != nil {
			continue
		}
		started++
		l.wg.Add(1)
		go l.readLoop(f)
	}
	if started == 0 {
		l.SetRunning(false)
		return ErrPermissionDenied
	}

	return nil
}

// inputEvent matches the Linux input_event struct.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

const (
	evKey      = 1
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

func (l *LinuxHook) readLoop(f *os.File) {
	defer l.wg.Done()
	defer f.Close()

	go func() {
		<-l.ctx.Done()
		f.Close()
	}()

	eventSize := binary.Size(inputEvent{})
	buf := make([]byte, eventSize)

	for {
		if l.ctx.Err() != nil {
			return
		}

		n, err := f.Read(buf)
		if err != nil {
			return
		}
		if n < eventSize {
			continue
		}

		evType := binary.LittleEndian.Uint16(buf[16:18])
		evCode := binary.LittleEndian.Uint16(buf[18:20])
		evValue := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if evType != evKey {
			continue
		}

		var transition string
		switch evValue {
		case keyPress:
			transition = TransitionPress
		case keyRelease:
			transition = TransitionRelease
		default:
			// Auto-repeat events are not state changes.
			continue
		}

		l.Emit(Event{
			Timestamp:  time.Now(),
			Symbol:     symbolForCode(evCode),
			Transition: transition,
		})
	}
}

// Stop stops reading and closes the event channel.
func (l *LinuxHook) Stop() error {
	if !l.IsRunning() {
		return nil
	}

	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()

	l.SetRunning(false)
	l.CloseEvents()

	return nil
}
