// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

// Watcher reports the removal of a device while a link is open.
type Watcher interface {
	// Watch calls onRemove at most once when device goes away. The returned
	// stop function ends the watch and is safe to call more than once.
	Watch(device string, onRemove func()) (stop func(), err error)
}
