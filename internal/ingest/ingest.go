// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ingest runs scan sessions: it owns the active channel, parses
// every line it delivers and hands parsed intakes to the backend.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ffutop/scanintake/internal/diaglog"
	"github.com/ffutop/scanintake/internal/intake"
	"github.com/ffutop/scanintake/payload"
	"github.com/ffutop/scanintake/transport"
	"github.com/ffutop/scanintake/transport/serial"
)

// MsgUnparseable is reported when a scan yields no usable payload.
const MsgUnparseable = "Could not extract information from the scan. Please try again."

var (
	ErrModeActive     = errors.New("ingest: another scan mode is active")
	ErrUnknownMode    = errors.New("ingest: unknown scan mode")
	ErrNoPending      = errors.New("ingest: no pending intake")
	ErrInvalidPending = errors.New("ingest: pending intake needs a name and a count of at least 1")
	ErrNotListening   = errors.New("ingest: no channel accepts pasted scans")
	ErrNoSubmitter    = errors.New("ingest: no intake backend configured")
)

// Recorder journals submission outcomes.
type Recorder interface {
	Record(ctx context.Context, rec intake.Record, res intake.Result, submitErr error) error
}

// Hooks are optional callbacks for a user interface. They run on the
// goroutine that produced the event and must not block for long.
type Hooks struct {
	// OnParsed is called with each new pending intake.
	OnParsed func(rec intake.Record)
	// OnError is called with the operator-facing message for a failure.
	OnError func(msg string, err error)
	// OnSubmitted is called after every submission attempt.
	OnSubmitted func(rec intake.Record, res intake.Result, err error)
}

// Options configure a Controller.
type Options struct {
	AutoSubmit    bool
	Submitter     intake.Submitter
	Journal       Recorder
	Diag          *diaglog.Log
	Hooks         Hooks
	SubmitTimeout time.Duration
}

// Submission is the outcome of the most recent submit.
type Submission struct {
	Record intake.Record `json:"record"`
	Result intake.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

// Status is a snapshot of the controller.
type Status struct {
	Mode       transport.Mode `json:"mode,omitempty"`
	AutoSubmit bool           `json:"auto_submit"`
	Pending    *intake.Record `json:"pending,omitempty"`
	Last       *Submission    `json:"last,omitempty"`
}

// Controller owns the single active channel. Opening a mode while another
// is active fails; the operator has to close it first.
type Controller struct {
	channels map[transport.Mode]transport.Channel
	opts     Options
	diag     *diaglog.Log

	mu      sync.Mutex
	active  transport.Channel
	pending *intake.Record
	last    *Submission
	wg      sync.WaitGroup
}

type errorReporter interface {
	SetErrorHandler(fn func(error))
}

type paster interface {
	Paste(text string) error
}

// New builds a controller over channels, one per mode.
func New(channels []transport.Channel, opts Options) *Controller {
	c := &Controller{
		channels: make(map[transport.Mode]transport.Channel, len(channels)),
		opts:     opts,
		diag:     opts.Diag,
	}
	for _, ch := range channels {
		c.channels[ch.Mode()] = ch
		if r, ok := ch.(errorReporter); ok {
			r.SetErrorHandler(c.channelError(ch))
		}
	}
	return c
}

// Open activates mode. Opening the active mode again re-arms it; for the
// serial link that means a fresh connection.
func (c *Controller) Open(ctx context.Context, mode transport.Mode) error {
	c.mu.Lock()
	ch, ok := c.channels[mode]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if c.active != nil && c.active != ch {
		active := c.active.Mode()
		c.mu.Unlock()
		return fmt.Errorf("%w: close %s mode first", ErrModeActive, active)
	}
	c.active = ch
	c.mu.Unlock()

	c.diag.Infof("opening %s scan mode", mode)
	if err := ch.Open(ctx, c.lineHandler(ch)); err != nil {
		c.mu.Lock()
		if c.active == ch {
			c.active = nil
		}
		c.mu.Unlock()
		c.fail(MessageFor(err), err)
		return err
	}
	return nil
}

// Close deactivates the active channel. With no active channel every
// channel is closed, which stops a serial link left connected by a
// failed open.
func (c *Controller) Close() error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active != nil {
		c.diag.Infof("closing %s scan mode", active.Mode())
		return active.Close()
	}
	var errs []error
	for _, ch := range c.channels {
		errs = append(errs, ch.Close())
	}
	return errors.Join(errs...)
}

// Active returns the mode of the active channel, or "".
func (c *Controller) Active() transport.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.Mode()
}

// Paste delivers text to the active channel as a pasted scan.
func (c *Controller) Paste(text string) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	p, ok := active.(paster)
	if !ok {
		return ErrNotListening
	}
	return p.Paste(text)
}

func (c *Controller) lineHandler(ch transport.Channel) transport.LineHandler {
	return func(line payload.RawScanLine) {
		c.mu.Lock()
		current := c.active == ch
		c.mu.Unlock()
		if !current {
			c.diag.Debugf("dropping %s line from inactive channel", line.Source)
			return
		}
		c.handle(ch, line)
	}
}

func (c *Controller) handle(ch transport.Channel, line payload.RawScanLine) {
	outcome, notes := payload.Trace(line.Text)
	for _, n := range notes {
		c.diag.Debugf("parse %s", n)
	}
	if !outcome.OK() {
		c.diag.Warnf("unparseable %s scan (%s)", line.Source, outcome.Reason)
		c.fail(MsgUnparseable, nil)
		return
	}

	rec := intake.NewRecord(outcome.Payload, line.Source, line.Timestamp)
	c.mu.Lock()
	c.pending = &rec
	if c.active == ch {
		c.active = nil
	}
	c.mu.Unlock()

	c.diag.Infof("parsed %s scan: %s x%d", line.Source, rec.Name, rec.Count)
	if fn := c.opts.Hooks.OnParsed; fn != nil {
		fn(rec)
	}
	if err := ch.Close(); err != nil {
		c.diag.Warnf("closing %s channel: %v", ch.Mode(), err)
	}

	if c.opts.AutoSubmit && c.opts.Submitter != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_, _ = c.submit(context.Background(), rec)
		}()
	}
}

// Confirm submits the pending intake.
func (c *Controller) Confirm(ctx context.Context) (intake.Result, error) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		return intake.Result{}, ErrNoPending
	}
	return c.submit(ctx, *p)
}

// Discard drops the pending intake.
func (c *Controller) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ErrNoPending
	}
	c.diag.Infof("discarded pending intake %s", c.pending.Name)
	c.pending = nil
	return nil
}

// UpdatePending replaces the editable fields of the pending intake.
func (c *Controller) UpdatePending(p payload.ScannedPayload) (intake.Record, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || p.Count < 1 {
		return intake.Record{}, ErrInvalidPending
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return intake.Record{}, ErrNoPending
	}
	c.pending.Name = p.Name
	c.pending.Count = p.Count
	c.pending.Category = strings.TrimSpace(p.Category)
	return *c.pending, nil
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{AutoSubmit: c.opts.AutoSubmit}
	if c.active != nil {
		st.Mode = c.active.Mode()
	}
	if c.pending != nil {
		p := *c.pending
		st.Pending = &p
	}
	if c.last != nil {
		l := *c.last
		st.Last = &l
	}
	return st
}

// Wait blocks until background submissions finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) submit(ctx context.Context, rec intake.Record) (intake.Result, error) {
	if c.opts.Submitter == nil {
		return intake.Result{}, ErrNoSubmitter
	}
	if c.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SubmitTimeout)
		defer cancel()
	}

	res, err := c.opts.Submitter.Submit(ctx, rec)

	last := &Submission{Record: rec, Result: res}
	if err != nil {
		last.Error = intake.UserMessage(err)
	}
	c.mu.Lock()
	c.last = last
	if err == nil && c.pending != nil && c.pending.ID == rec.ID {
		c.pending = nil
	}
	c.mu.Unlock()

	if c.opts.Journal != nil {
		if jerr := c.opts.Journal.Record(ctx, rec, res, err); jerr != nil {
			c.diag.Warnf("journal: %v", jerr)
		}
	}
	if err != nil {
		c.fail(intake.UserMessage(err), err)
	} else {
		c.diag.Infof("%s stored in bin %s, total stock %d (%s)", res.MedicineName, res.Bin, res.TotalStock, res.Status())
	}
	if fn := c.opts.Hooks.OnSubmitted; fn != nil {
		fn(rec, res, err)
	}
	return res, err
}

// channelError handles failures a channel reports after Open returned.
func (c *Controller) channelError(ch transport.Channel) func(error) {
	return func(err error) {
		if errors.Is(err, serial.ErrPortDisconnected) {
			c.mu.Lock()
			if c.active == ch {
				c.active = nil
			}
			c.mu.Unlock()
		}
		c.fail(MessageFor(err), err)
	}
}

func (c *Controller) fail(msg string, err error) {
	if err != nil {
		c.diag.Errorf("%s (%v)", msg, err)
	}
	if fn := c.opts.Hooks.OnError; fn != nil {
		fn(msg, err)
	}
}

// MessageFor returns the operator-facing text for a channel error.
func MessageFor(err error) string {
	var le *serial.LinkError
	if errors.As(err, &le) || errors.Is(err, serial.ErrNoDeviceSelected) {
		return serial.UserMessage(err)
	}
	return err.Error()
}
