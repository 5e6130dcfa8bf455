// Copyright The PagePool Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shrink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"strings"

	"golang.org/x/sys/unix"
)

// Memory pressure levels understood by the cgroup v1 memory controller.
const (
	PressureLow      = "low"
	PressureMedium   = "medium"
	PressureCritical = "critical"
)

// stopVal is written to the eventfd by the stop function. Its most
// significant bit makes it unambiguous against real pressure event
// counts.
const stopVal = uint64(1) << 63

// NotifyMemoryPressure requests that f is called whenever the calling
// process' memory cgroup signals memory pressure of the given level,
// as defined by the kernel's cgroup v1 memory controller. It returns
// a function that terminates the notifications; that function may be
// called at most once.
func NotifyMemoryPressure(level string, f func()) (func(), error) {
	switch level {
	case PressureLow, PressureMedium, PressureCritical:
	default:
		return nil, fmt.Errorf("shrink: invalid memory pressure level %q", level)
	}

	cgdir, err := currentCgroupDirectory("memory")
	if err != nil {
		return nil, err
	}

	pressureFile, err := os.Open(path.Join(cgdir, "memory.pressure_level"))
	if err != nil {
		return nil, err
	}
	defer pressureFile.Close()

	eventControlPath := path.Join(cgdir, "cgroup.event_control")
	eventControlFile, err := os.OpenFile(eventControlPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	defer eventControlFile.Close()

	efd, err := unix.Eventfd(0, 0)
	if err != nil {
		return nil, fmt.Errorf("shrink: failed to create eventfd: %w", err)
	}
	eventFD := os.NewFile(uintptr(efd), "pressure-eventfd")

	// The control string must be written with a single write.
	eventControlStr := fmt.Sprintf("%d %d %s", efd, pressureFile.Fd(), level)
	if n, err := eventControlFile.Write([]byte(eventControlStr)); n != len(eventControlStr) || err != nil {
		eventFD.Close()
		return nil, fmt.Errorf("shrink: failed to write %q to %s: %v", eventControlStr,
			eventControlPath, err)
	}

	log.Info("receiving %q memory pressure notifications from %s", level, cgdir)

	stopCh := make(chan struct{})
	go func() {
		var buf [8]byte
		for {
			if _, err := eventFD.Read(buf[:]); err != nil {
				log.Error("failed to read memory pressure eventfd: %v", err)
				eventFD.Close()
				close(stopCh)
				return
			}
			if binary.NativeEndian.Uint64(buf[:]) >= stopVal {
				// Stop requested.
				eventFD.Close()
				close(stopCh)
				return
			}
			f()
		}
	}()

	return func() {
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], stopVal)
		if _, err := eventFD.Write(buf[:]); err != nil {
			log.Error("failed to write memory pressure eventfd: %v", err)
		}
		<-stopCh
	}, nil
}

// currentCgroupDirectory returns the directory of the given cgroup
// controller for the calling process.
func currentCgroupDirectory(ctrl string) (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Per proc(5): hierarchy-ID:controller-list:cgroup-path
		fields := strings.SplitN(scanner.Text(), ":", 3)
		if len(fields) != 3 {
			continue
		}
		for _, c := range strings.Split(fields[1], ",") {
			if c == ctrl {
				return path.Join("/sys/fs/cgroup", ctrl, fields[2]), nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("shrink: no %q cgroup controller found", ctrl)
}
