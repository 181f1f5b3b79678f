// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build linux

package serial

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/pilebones/go-udev/netlink"
)

// UdevWatcher listens for tty removal events on the udev netlink socket.
type UdevWatcher struct{}

func (UdevWatcher) Watch(device string, onRemove func()) (func(), error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, fmt.Errorf("failed to connect to netlink socket: %w", err)
	}

	target := devName(device)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, removalMatcher())

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			close(monitorQuit)
			_ = conn.Close()
		})
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case uevent := <-queue:
				name := uevent.Env["DEVNAME"]
				if name == "" || devName(name) != target {
					continue
				}
				slog.Info("serial device removed", "device", device, "action", string(uevent.Action))
				onRemove()
				return
			case err := <-errs:
				slog.Warn("netlink monitor error", "device", device, "err", err)
			}
		}
	}()
	return stop, nil
}

// removalMatcher matches SUBSYSTEM=tty, ACTION=remove.
func removalMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})
	return rules
}

// devName resolves symlinks such as /dev/serial/by-id/... and returns the
// kernel device name ("ttyUSB0").
func devName(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Base(path)
}
