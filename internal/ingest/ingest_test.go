// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/scanintake/internal/intake"
	"github.com/ffutop/scanintake/payload"
	"github.com/ffutop/scanintake/transport"
	"github.com/ffutop/scanintake/transport/keyboard"
	"github.com/ffutop/scanintake/transport/serial"
)

type fakeChannel struct {
	mode    transport.Mode
	openErr error

	mu     sync.Mutex
	handle transport.LineHandler
	opens  int
	closes int
	onErr  func(error)
}

func (f *fakeChannel) Mode() transport.Mode { return f.mode }

func (f *fakeChannel) Open(_ context.Context, h transport.LineHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.handle = h
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.handle = nil
	return nil
}

func (f *fakeChannel) SetErrorHandler(fn func(error)) { f.onErr = fn }

func (f *fakeChannel) emit(text string) {
	f.mu.Lock()
	h := f.handle
	f.mu.Unlock()
	h(payload.NewRawScanLine(text, payload.SourceSerial))
}

func (f *fakeChannel) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type fakeSubmitter struct {
	mu   sync.Mutex
	got  []intake.Record
	res  intake.Result
	errs []error
}

func (s *fakeSubmitter) Submit(_ context.Context, rec intake.Record) (intake.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, rec)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return intake.Result{}, err
		}
	}
	return s.res, nil
}

func (s *fakeSubmitter) records() []intake.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]intake.Record(nil), s.got...)
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []error
}

func (j *fakeJournal) Record(_ context.Context, _ intake.Record, _ intake.Result, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, err)
	return nil
}

type errorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) add(msg string, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *errorLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

type fixture struct {
	ctrl     *Controller
	kb       *fakeChannel
	ser      *fakeChannel
	sub      *fakeSubmitter
	journal  *fakeJournal
	errors   *errorLog
	parsed   []intake.Record
	parsedMu sync.Mutex
}

func newFixture(autoSubmit bool) *fixture {
	f := &fixture{
		kb:      &fakeChannel{mode: transport.ModeKeyboard},
		ser:     &fakeChannel{mode: transport.ModeSerial},
		sub:     &fakeSubmitter{res: intake.Result{MedicineName: "Paracetamol", Bin: "A-1", TotalStock: 5, Upserted: true}},
		journal: &fakeJournal{},
		errors:  &errorLog{},
	}
	f.ctrl = New([]transport.Channel{f.kb, f.ser}, Options{
		AutoSubmit: autoSubmit,
		Submitter:  f.sub,
		Journal:    f.journal,
		Hooks: Hooks{
			OnError: f.errors.add,
			OnParsed: func(rec intake.Record) {
				f.parsedMu.Lock()
				f.parsed = append(f.parsed, rec)
				f.parsedMu.Unlock()
			},
		},
	})
	return f
}

func TestController_OneModeAtATime(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Open(ctx, transport.ModeKeyboard))
	assert.ErrorIs(t, f.ctrl.Open(ctx, transport.ModeSerial), ErrModeActive)
	opens, closes := f.kb.counts()
	assert.Equal(t, 1, opens)
	assert.Zero(t, closes, "opening another mode must not close the active one")

	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Open(ctx, transport.ModeSerial))
	assert.Equal(t, transport.ModeSerial, f.ctrl.Active())

	assert.ErrorIs(t, f.ctrl.Open(ctx, transport.Mode("bluetooth")), ErrUnknownMode)
}

func TestController_AutoSubmit(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))

	f.ser.emit("Paracetamol|5|analgesic")
	f.ctrl.Wait()

	_, closes := f.ser.counts()
	assert.Equal(t, 1, closes)
	assert.Empty(t, f.ctrl.Active())

	got := f.sub.records()
	require.Len(t, got, 1)
	assert.Equal(t, "Paracetamol", got[0].Name)
	assert.Equal(t, 5, got[0].Count)
	assert.Equal(t, "analgesic", got[0].Category)
	assert.Equal(t, payload.SourceSerial, got[0].Source)
	assert.NotEmpty(t, got[0].ID)

	st := f.ctrl.Status()
	assert.Nil(t, st.Pending)
	require.NotNil(t, st.Last)
	assert.Equal(t, intake.Bin("A-1"), st.Last.Result.Bin)
	assert.Empty(t, st.Last.Error)
	assert.Len(t, f.journal.entries, 1)
}

func TestController_ManualConfirm(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, transport.ModeSerial))

	f.ser.emit(`{"medicine":"Insulin","quantity":2}`)
	f.ctrl.Wait()
	assert.Empty(t, f.sub.records())
	_, closes := f.ser.counts()
	assert.Equal(t, 1, closes)

	st := f.ctrl.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, "Insulin", st.Pending.Name)

	rec, err := f.ctrl.UpdatePending(payload.ScannedPayload{Name: " Insulin glargine ", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "Insulin glargine", rec.Name)
	_, err = f.ctrl.UpdatePending(payload.ScannedPayload{Name: "Insulin", Count: 0})
	assert.ErrorIs(t, err, ErrInvalidPending)

	_, err = f.ctrl.Confirm(ctx)
	require.NoError(t, err)
	got := f.sub.records()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, st.Pending.ID, got[0].ID)

	_, err = f.ctrl.Confirm(ctx)
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestController_SubmitFailureKeepsPending(t *testing.T) {
	f := newFixture(true)
	f.sub.errs = []error{&intake.RejectedError{StatusCode: 400, Detail: "No free bins"}}
	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))

	f.ser.emit("Gauze 4")
	f.ctrl.Wait()

	assert.Equal(t, []string{"No free bins"}, f.errors.all())
	st := f.ctrl.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, "Gauze", st.Pending.Name)
	assert.Equal(t, "No free bins", st.Last.Error)

	_, err := f.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f.ctrl.Status().Pending)
	assert.Len(t, f.journal.entries, 2)
}

func TestController_UnparseableKeepsChannelOpen(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))

	f.ser.emit("   ")

	assert.Equal(t, []string{MsgUnparseable}, f.errors.all())
	_, closes := f.ser.counts()
	assert.Zero(t, closes)
	assert.Equal(t, transport.ModeSerial, f.ctrl.Active())
	assert.Nil(t, f.ctrl.Status().Pending)
}

func TestController_DropsStaleLines(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))
	f.ser.mu.Lock()
	stale := f.ser.handle
	f.ser.mu.Unlock()

	require.NoError(t, f.ctrl.Close())
	stale(payload.NewRawScanLine("Aspirin 2", payload.SourceSerial))
	f.ctrl.Wait()

	assert.Empty(t, f.sub.records())
	assert.Nil(t, f.ctrl.Status().Pending)
}

func TestController_Discard(t *testing.T) {
	f := newFixture(false)
	assert.ErrorIs(t, f.ctrl.Discard(), ErrNoPending)

	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))
	f.ser.emit("Saline|1")
	require.NoError(t, f.ctrl.Discard())
	assert.Nil(t, f.ctrl.Status().Pending)
	_, err := f.ctrl.UpdatePending(payload.ScannedPayload{Name: "Saline", Count: 1})
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestController_OpenFailure(t *testing.T) {
	f := newFixture(true)
	f.ser.openErr = &serial.LinkError{Kind: serial.KindOpenFailed, Op: "open", Err: serial.ErrOpenFailedAllBauds}

	err := f.ctrl.Open(context.Background(), transport.ModeSerial)
	assert.ErrorIs(t, err, serial.ErrOpenFailedAllBauds)
	assert.Empty(t, f.ctrl.Active())
	assert.Equal(t, []string{serial.UserMessage(err)}, f.errors.all())

	require.NoError(t, f.ctrl.Close())
	_, closes := f.ser.counts()
	assert.Equal(t, 1, closes, "close without an active mode releases every channel")
}

func TestController_DeviceRemoved(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))

	removed := &serial.LinkError{Kind: serial.KindPortUnavailable, Op: "hotplug", Err: serial.ErrPortDisconnected}
	f.ser.onErr(removed)

	assert.Empty(t, f.ctrl.Active())
	assert.Equal(t, []string{serial.UserMessage(removed)}, f.errors.all())
}

func TestController_ReadErrorKeepsMode(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.ctrl.Open(context.Background(), transport.ModeSerial))

	f.ser.onErr(&serial.LinkError{Kind: serial.KindReadError, Op: "read", Err: serial.ErrReadFailed})
	assert.Equal(t, transport.ModeSerial, f.ctrl.Active())
	assert.Len(t, f.errors.all(), 1)
}

func TestController_PasteIntoKeyboard(t *testing.T) {
	kb := keyboard.New(nil, nil, nil)
	sub := &fakeSubmitter{}
	ctrl := New([]transport.Channel{kb}, Options{AutoSubmit: false, Submitter: sub})

	assert.ErrorIs(t, ctrl.Paste("x"), ErrNotListening)
	require.NoError(t, ctrl.Open(context.Background(), transport.ModeKeyboard))
	require.NoError(t, ctrl.Paste(`{"product":"Gauze","qty":"4"}`))

	st := ctrl.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, "Gauze", st.Pending.Name)
	assert.Equal(t, 4, st.Pending.Count)
	assert.Equal(t, payload.SourcePaste, st.Pending.Source)
	assert.Empty(t, ctrl.Active())
	assert.ErrorIs(t, kb.Paste("again"), keyboard.ErrNotListening)
}

func TestController_NoSubmitter(t *testing.T) {
	ch := &fakeChannel{mode: transport.ModeSerial}
	ctrl := New([]transport.Channel{ch}, Options{})
	require.NoError(t, ctrl.Open(context.Background(), transport.ModeSerial))
	ch.emit("Aspirin 1")

	_, err := ctrl.Confirm(context.Background())
	assert.True(t, errors.Is(err, ErrNoSubmitter))
}
