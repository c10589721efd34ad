//go:build !windows

package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/replicate/rget/pkg/logging"
)

type PIDFile struct {
	path string
	file *os.File
	fd   int
}

func NewPIDFile(path string) (*PIDFile, error) {
	p := &PIDFile{path: path}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PIDFile) open() error {
	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	p.file = file
	p.fd = int(file.Fd())
	return nil
}

// Acquire blocks until this process holds the lock. The holder removes the
// file before unlocking, so a lock won on a file that is no longer at path is
// stale and the path is opened again.
func (p *PIDFile) Acquire() error {
	for {
		if err := p.lock(); err != nil {
			return err
		}
		current, err := p.isCurrent()
		if err != nil {
			return err
		}
		if current {
			break
		}
		logger := logging.GetLogger()
		logger.Debug().Str("path", p.path).Msg("Lock file replaced, retrying")
		if err := p.file.Close(); err != nil {
			return err
		}
		if err := p.open(); err != nil {
			return err
		}
	}
	funcs := []func() error{
		p.writePID,
		p.file.Sync,
	}
	return p.executeFuncs(funcs)
}

func (p *PIDFile) lock() error {
	logger := logging.GetLogger()
	logger.Debug().Str("blocking_lock_acquire", "false").Msg("Waiting on Lock")
	err := syscall.Flock(p.fd, syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("message", "Another rget process is downloading to the same destination").
			Msg("Waiting on Lock")
		logger.Debug().Str("blocking_lock_acquire", "true").Msg("Waiting on Lock")
		err = syscall.Flock(p.fd, syscall.LOCK_EX)
	}
	return err
}

func (p *PIDFile) isCurrent() (bool, error) {
	held, err := p.file.Stat()
	if err != nil {
		return false, err
	}
	onDisk, err := os.Stat(p.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, onDisk), nil
}

// Release removes the lock file while still holding the lock.
func (p *PIDFile) Release() error {
	funcs := []func() error{
		func() error { return os.Remove(p.path) },
		func() error { return syscall.Flock(p.fd, syscall.LOCK_UN) },
		p.file.Close,
	}
	return p.executeFuncs(funcs)
}

func (p *PIDFile) writePID() error {
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	_, err := p.file.WriteAt([]byte(fmt.Sprintf("%d", os.Getpid())), 0)
	return err
}

func (p *PIDFile) executeFuncs(funcs []func() error) error {
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
