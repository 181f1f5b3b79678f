// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build !linux

package serial

import "errors"

// UdevWatcher is only available on Linux.
type UdevWatcher struct{}

func (UdevWatcher) Watch(string, func()) (func(), error) {
	return nil, errors.New("device removal detection requires udev")
}
