// Package pidfile keeps a single daemon instance per user by holding an
// exclusive lock on a pid file for the lifetime of the process.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned when another process holds the pid file.
var ErrLocked = errors.New("pidfile: already locked by another process")

// File is a held pid file.
type File struct {
	path string
	f    *os.File
}

// Acquire creates path, takes the lock without blocking and writes the
// current pid into it.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		if pid, perr := Read(path); perr == nil {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}
		return nil, ErrLocked
	}

	if err := f.Truncate(0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the pid file location.
func (p *File) Path() string {
	return p.path
}

// Release unlocks and removes the pid file.
func (p *File) Release() error {
	if p.f == nil {
		return nil
	}
	os.Remove(p.path)
	err := unlock(p.f)
	if cerr := p.f.Close(); err == nil {
		err = cerr
	}
	p.f = nil
	return err
}

// Read returns the pid recorded in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	return pid, nil
}
