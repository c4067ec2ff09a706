//go:build !unix && !windows

package pidfile

import "os"

func tryLock(f *os.File) error { return nil }

func unlock(f *os.File) error { return nil }
