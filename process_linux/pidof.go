//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NamedProcess is one /proc entry whose comm or exe basename was matched
// against a requested name.
type NamedProcess struct {
	PID  int
	Name string // best-effort: comm or exe basename, whichever matched
}

// ListByName returns every running process whose comm or exe basename
// equals name. The match is case-sensitive, like pidof(1).
func ListByName(name string) ([]NamedProcess, error) {
	if name == "" {
		return nil, errors.New("pidof: empty name")
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("pidof: read /proc: %w", err)
	}

	selfPID := os.Getpid()
	var matches []NamedProcess

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue // not a PID directory
		}
		if pid == selfPID {
			continue
		}

		comm, _ := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if trimmed := strings.TrimSpace(string(comm)); trimmed == name {
			matches = append(matches, NamedProcess{PID: pid, Name: trimmed})
			continue
		}

		// comm truncates at 15 bytes; fall back to the exe symlink's basename.
		// May fail for a zombie or a process we lack permission to inspect.
		if exe, _ := os.Readlink(filepath.Join("/proc", e.Name(), "exe")); exe != "" {
			if base := filepath.Base(exe); base == name {
				matches = append(matches, NamedProcess{PID: pid, Name: base})
			}
		}
	}

	return matches, nil
}

// OneByName returns the lowest-PID match for name, or os.ErrNotExist if no
// running process matches. Used by cmd/ptrsx-dump's --name flag as an
// alternative to passing --pid directly.
func OneByName(name string) (NamedProcess, error) {
	matches, err := ListByName(name)
	if err != nil {
		return NamedProcess{}, err
	}
	if len(matches) == 0 {
		return NamedProcess{}, fmt.Errorf("pidof: no process named %q: %w", name, os.ErrNotExist)
	}

	lowest := matches[0]
	for _, m := range matches[1:] {
		if m.PID < lowest.PID {
			lowest = m
		}
	}
	return lowest, nil
}
