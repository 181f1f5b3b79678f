// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// acquirePortLock takes an advisory per-device lock so that two scanner
// sessions never read the same port. A held lock maps to ErrPortBusy.
func acquirePortLock(dir, device string) (*flock.Flock, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, linkError(KindConnection, "lock", fmt.Errorf("%w: %v", ErrConnection, err))
	}
	fl := flock.New(filepath.Join(dir, lockName(device)))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, linkError(KindConnection, "lock", fmt.Errorf("%w: %v", ErrConnection, err))
	}
	if !ok {
		return nil, linkError(KindPortUnavailable, "lock", fmt.Errorf("%w: %s is used by another session", ErrPortBusy, device))
	}
	return fl, nil
}

func lockName(device string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.TrimPrefix(device, "/dev/"))
	return "scanintake-" + name + ".lock"
}
