// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ffutop/scanintake/internal/config"
	"github.com/ffutop/scanintake/internal/diaglog"
	"github.com/ffutop/scanintake/internal/diagserver"
	"github.com/ffutop/scanintake/internal/ingest"
	"github.com/ffutop/scanintake/internal/intake"
	"github.com/ffutop/scanintake/internal/journal"
	"github.com/ffutop/scanintake/transport"
	"github.com/ffutop/scanintake/transport/keyboard"
	"github.com/ffutop/scanintake/transport/serial"
)

// retryDelay separates reconnect attempts in continuous mode.
const retryDelay = 2 * time.Second

// session wires the channels, controller and optional surfaces for one
// listen run.
type session struct {
	diag    *diaglog.Log
	link    *serial.Manager
	ctrl    *ingest.Controller
	journal *journal.Journal

	// ended receives once per scan: true when a payload was parsed, false
	// when the channel failed.
	ended chan bool
}

func newSession(cfg *config.Config, in io.Reader, out io.Writer) (*session, error) {
	storage, err := diaglog.NewStorage(cfg.Diag.Persistence.Type, cfg.Diag.Persistence.Path)
	if err != nil {
		return nil, err
	}
	diag, err := diaglog.New(cfg.Diag.Capacity, storage)
	if err != nil {
		storage.Close()
		return nil, err
	}
	s := &session{diag: diag, ended: make(chan bool, 1)}

	host, err := serial.NewHost(cfg.Serial.Driver, cfg.Serial.PollInterval)
	if err != nil {
		if serial.KindOf(err) != serial.KindFeatureUnavailable {
			s.Close()
			return nil, err
		}
		diag.Warnf("%s", serial.UserMessage(err))
		host = nil
	}
	vendorIDs, err := parseVendorIDs(cfg.Serial.VendorIDs)
	if err != nil {
		s.Close()
		return nil, err
	}
	var selector serial.Selector = &serial.TerminalSelector{In: in, Out: out}
	if cfg.Serial.Device != "" {
		selector = serial.FixedSelector{Device: cfg.Serial.Device}
	}
	opts := serial.Options{
		BaudRates: cfg.Serial.BaudRates,
		VendorIDs: vendorIDs,
		Encoding:  cfg.Serial.Encoding,
		LockDir:   cfg.Serial.LockDir,
	}
	if cfg.Serial.Hotplug && runtime.GOOS == "linux" {
		opts.Hotplug = serial.UdevWatcher{}
	}
	s.link = serial.NewManager(host, selector, opts, diag)

	ingestOpts := ingest.Options{
		AutoSubmit:    cfg.AutoSubmit,
		Submitter:     intake.NewClient(cfg.Intake.BaseURL, cfg.Intake.Timeout),
		Diag:          diag,
		SubmitTimeout: cfg.Intake.Timeout,
		Hooks:         s.consoleHooks(out),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = j
		ingestOpts.Journal = j
	}

	kb := keyboard.New(in, out, diag)
	s.ctrl = ingest.New([]transport.Channel{kb, s.link}, ingestOpts)
	return s, nil
}

func (s *session) consoleHooks(out io.Writer) ingest.Hooks {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}
	signal := func(parsed bool) {
		select {
		case s.ended <- parsed:
		default:
		}
	}
	return ingest.Hooks{
		OnParsed: func(rec intake.Record) {
			printf("Scanned: %s x%d", rec.Name, rec.Count)
			if rec.Category != "" {
				printf(" (%s)", rec.Category)
			}
			printf("\n")
			signal(true)
		},
		OnError: func(msg string, err error) {
			printf("Error: %s\n", msg)
			// A serial link reads one line per connection, so an
			// unparseable serial scan also ends the attempt.
			if err != nil || s.ctrl.Active() == transport.ModeSerial {
				signal(false)
			}
		},
		OnSubmitted: func(rec intake.Record, res intake.Result, err error) {
			if err != nil {
				return
			}
			printf("Stored %s in bin %s, total stock %d (%s)\n", res.MedicineName, res.Bin, res.TotalStock, res.Status())
		},
	}
}

func (s *session) Close() {
	if s.ctrl != nil {
		_ = s.ctrl.Close()
		s.ctrl.Wait()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			slog.Warn("failed to close journal", "err", err)
		}
	}
	if err := s.diag.Close(); err != nil {
		slog.Warn("failed to close diagnostic log", "err", err)
	}
}

func runListen(ctx context.Context, cfg *config.Config, continuous bool, out io.Writer) error {
	s, err := newSession(cfg, os.Stdin, out)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.HTTP.Address != "" {
		srv := diagserver.New(s.ctrl, s.diag, s.link)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.HTTP.Address); err != nil {
				slog.Error("diag server stopped", "err", err)
			}
		}()
	} else if !cfg.AutoSubmit {
		slog.Warn("auto_submit is off and http.address is empty: scans are parsed but never submitted")
	}

	mode, _ := transport.ParseMode(cfg.Mode)
	slog.Info("Starting scan session", "mode", mode, "auto_submit", cfg.AutoSubmit, "continuous", continuous)

	for {
		if err := s.ctrl.Open(ctx, mode); err != nil {
			if errors.Is(err, serial.ErrNoDeviceSelected) || !continuous {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}
		select {
		case <-ctx.Done():
			slog.Info("Shutting down...")
			return nil
		case <-s.ended:
		}
		s.ctrl.Wait()
		if !continuous || ctx.Err() != nil {
			return nil
		}
		if err := s.ctrl.Close(); err != nil {
			slog.Debug("close between scans", "err", err)
		}
	}
}
