// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ffutop/scanintake/internal/diaglog"
	"github.com/ffutop/scanintake/payload"
	"github.com/ffutop/scanintake/transport"
)

// DefaultStopGrace bounds each wait for the reader during Stop.
const DefaultStopGrace = 500 * time.Millisecond

// Options configure a Manager.
type Options struct {
	BaudRates []int
	VendorIDs []uint16
	Encoding  string
	// LockDir holds the per-device lock files. Empty means os.TempDir().
	LockDir string
	// Hotplug, when set, stops the link as soon as the device is removed.
	Hotplug   Watcher
	StopGrace time.Duration
}

// session is everything owned by one open link.
type session struct {
	info    PortInfo
	baud    int
	port    Port
	lock    *flock.Flock
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	unwatch func()
}

// Manager owns the serial link lifecycle:
// Disconnected -> Connecting -> Connected -> Reading.
// At most one link is open and at most one read loop runs per link.
type Manager struct {
	host     Host
	selector Selector
	opts     Options
	diag     *diaglog.Log

	mu            sync.Mutex
	state         State
	gen           uint64
	sess          *session
	cancelConnect context.CancelFunc
	negotiating   chan struct{}
	stopping      chan struct{}
	onError       func(error)
}

var _ transport.Channel = (*Manager)(nil)

// NewManager builds a manager. A nil host means the platform has no serial
// support and every Connect fails with ErrFeatureUnavailable.
func NewManager(host Host, selector Selector, opts Options, diag *diaglog.Log) *Manager {
	if len(opts.BaudRates) == 0 {
		opts.BaudRates = DefaultBaudRates
	}
	if opts.VendorIDs == nil {
		opts.VendorIDs = DefaultVendorIDs
	}
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	return &Manager{host: host, selector: selector, opts: opts, diag: diag}
}

func (m *Manager) Mode() transport.Mode { return transport.ModeSerial }

// Open connects and starts reading. It is Connect under the Channel name.
func (m *Manager) Open(ctx context.Context, handle transport.LineHandler) error {
	return m.Connect(ctx, handle)
}

// Close runs the stop protocol. It never fails.
func (m *Manager) Close() error {
	m.Stop()
	return nil
}

// SetErrorHandler registers fn for failures that happen after Connect
// returned: read errors and device removal.
func (m *Manager) SetErrorHandler(fn func(error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Link returns the open port and its baud rate.
func (m *Manager) Link() (PortInfo, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return PortInfo{}, 0, false
	}
	return m.sess.info, m.sess.baud, true
}

// Connect selects a port, opens it at the first baud rate that works and
// starts the read loop. The first complete non-blank line is passed to
// handle, after which the link stays Connected until stopped. An existing
// link is stopped first.
func (m *Manager) Connect(ctx context.Context, handle transport.LineHandler) error {
	if m.host == nil {
		err := linkError(KindFeatureUnavailable, "connect", ErrFeatureUnavailable)
		m.diag.Errorf("serial port access is not available on this platform")
		return err
	}
	if m.State() != StateDisconnected {
		m.diag.Infof("closing the current serial link before reconnecting")
		m.Stop()
	}

	m.mu.Lock()
	if m.state != StateDisconnected || m.stopping != nil {
		m.mu.Unlock()
		return linkError(KindConnection, "connect", fmt.Errorf("%w: another connect is in progress", ErrConnection))
	}
	m.gen++
	gen := m.gen
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	negotiated := make(chan struct{})
	m.cancelConnect = cancel
	m.negotiating = negotiated
	m.state = StateConnecting
	m.mu.Unlock()

	sess, err := m.negotiate(cctx)
	if err != nil {
		m.abort(gen)
		close(negotiated)
		if errors.Is(err, ErrNoDeviceSelected) {
			m.diag.Infof("no serial device selected")
		} else {
			m.diag.Errorf("%s (%v)", UserMessage(err), err)
		}
		return err
	}

	m.watch(sess)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.release(sess)
		close(negotiated)
		return linkError(KindConnection, "connect", fmt.Errorf("%w: stopped while connecting", ErrConnection))
	}
	m.sess = sess
	m.cancelConnect = nil
	m.negotiating = nil
	m.state = StateConnected
	m.mu.Unlock()
	close(negotiated)

	reader, ok := sess.port.(io.Reader)
	if !ok {
		close(sess.done)
		err := linkError(KindNotReadable, "read", ErrNotReadable)
		m.diag.Errorf("%s (%s)", UserMessage(err), sess.info.Name)
		return err
	}
	text, err := newDecodingPipe(&streamReader{ctx: sess.ctx, r: reader}, m.opts.Encoding)
	if err != nil {
		close(sess.done)
		m.Stop()
		m.diag.Errorf("%v", err)
		return linkError(KindConnection, "decode", fmt.Errorf("%w: %v", ErrConnection, err))
	}

	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		close(sess.done)
		return linkError(KindConnection, "connect", fmt.Errorf("%w: stopped while connecting", ErrConnection))
	}
	m.state = StateReading
	m.mu.Unlock()

	m.diag.Infof("reading from %s at %d baud", sess.info.Name, sess.baud)
	go m.run(sess, text, handle)
	return nil
}

// Stop tears the link down. It is idempotent; concurrent calls wait for the
// one in flight instead of starting a second teardown. A connect still
// negotiating is cancelled and awaited so its port and lock are released.
// Every step is attempted even if an earlier one fails, and the final state
// is always Disconnected.
func (m *Manager) Stop() {
	m.mu.Lock()
	if inflight := m.stopping; inflight != nil {
		m.mu.Unlock()
		<-inflight
		return
	}
	if m.state == StateDisconnected && m.sess == nil && m.cancelConnect == nil {
		m.mu.Unlock()
		return
	}
	stopped := make(chan struct{})
	m.stopping = stopped
	m.gen++
	sess, cancelConnect, negotiating := m.sess, m.cancelConnect, m.negotiating
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.sess = nil
		m.cancelConnect = nil
		m.negotiating = nil
		m.state = StateDisconnected
		m.stopping = nil
		m.mu.Unlock()
		close(stopped)
	}()

	if cancelConnect != nil {
		cancelConnect()
	}
	if negotiating != nil && !m.await(negotiating) {
		m.diag.Warnf("serial connect did not finish within %s", m.opts.StopGrace)
	}
	if sess != nil {
		m.teardown(sess)
		m.diag.Infof("serial link to %s closed", sess.info.Name)
	}
}

// teardown: cancel the reader, release the lock, await the reader, close
// the port, await the reader again.
func (m *Manager) teardown(sess *session) {
	sess.cancel()
	if sess.unwatch != nil {
		sess.unwatch()
	}
	if sess.lock != nil {
		if err := sess.lock.Unlock(); err != nil {
			m.diag.Warnf("releasing lock for %s: %v", sess.info.Name, err)
		}
	}
	if !m.await(sess.done) {
		m.diag.Debugf("reader on %s still blocked, closing the port to release it", sess.info.Name)
	}
	if err := sess.port.Close(); err != nil && !isAlreadyClosed(err) {
		m.diag.Warnf("closing %s: %v", sess.info.Name, err)
	}
	if !m.await(sess.done) {
		m.diag.Warnf("reader on %s did not exit", sess.info.Name)
	}
}

func (m *Manager) await(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(m.opts.StopGrace):
		return false
	}
}

// release undoes a negotiated session that never became current.
func (m *Manager) release(sess *session) {
	sess.cancel()
	if sess.unwatch != nil {
		sess.unwatch()
	}
	close(sess.done)
	if sess.lock != nil {
		_ = sess.lock.Unlock()
	}
	if err := sess.port.Close(); err != nil && !isAlreadyClosed(err) {
		m.diag.Warnf("closing %s: %v", sess.info.Name, err)
	}
}

// abort returns a failed connect to Disconnected unless a stop took over.
func (m *Manager) abort(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.state = StateDisconnected
		m.cancelConnect = nil
		m.negotiating = nil
	}
}

func (m *Manager) negotiate(ctx context.Context) (*session, error) {
	info, err := m.requestPort(ctx)
	if err != nil {
		return nil, err
	}
	lock, err := acquirePortLock(m.opts.LockDir, info.Name)
	if err != nil {
		return nil, err
	}
	port, baud, err := m.openAnyBaud(ctx, info.Name)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = lock.Unlock()
		if cerr := port.Close(); cerr != nil && !isAlreadyClosed(cerr) {
			m.diag.Warnf("closing %s: %v", info.Name, cerr)
		}
		return nil, linkError(KindConnection, "open", fmt.Errorf("%w: %v", ErrConnection, err))
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &session{
		info:   info,
		baud:   baud,
		port:   port,
		lock:   lock,
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// requestPort offers the vendor-filtered ports first and, if the operator
// declines or none match, every port.
func (m *Manager) requestPort(ctx context.Context) (PortInfo, error) {
	ports, err := m.host.Ports()
	if err != nil {
		return PortInfo{}, linkError(KindConnection, "list ports", fmt.Errorf("%w: %v", ErrConnection, err))
	}

	if filtered := FilterByVendor(ports, m.opts.VendorIDs); len(filtered) > 0 {
		info, err := m.selector.Select(ctx, filtered)
		if err == nil {
			return info, nil
		}
		if ctx.Err() != nil {
			return PortInfo{}, linkError(KindConnection, "request port", fmt.Errorf("%w: %v", ErrConnection, ctx.Err()))
		}
		m.diag.Infof("no filtered port chosen (%v), offering all ports", err)
	}

	info, err := m.selector.Select(ctx, ports)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, ErrNoDeviceSelected):
		return PortInfo{}, err
	case ctx.Err() != nil:
		return PortInfo{}, linkError(KindConnection, "request port", fmt.Errorf("%w: %v", ErrConnection, ctx.Err()))
	case errors.Is(err, ErrDeviceNotFound):
		return PortInfo{}, linkError(KindDeviceNotFound, "request port", err)
	default:
		return PortInfo{}, linkError(KindDeviceNotFound, "request port", fmt.Errorf("%w: %v", ErrDeviceNotFound, err))
	}
}

// openAnyBaud tries each baud rate in order. When every attempt fails for
// the same recognisable reason that reason is reported, otherwise
// ErrOpenFailedAllBauds.
func (m *Manager) openAnyBaud(ctx context.Context, name string) (Port, int, error) {
	var common, last error
	for i, baud := range m.opts.BaudRates {
		if err := ctx.Err(); err != nil {
			return nil, 0, linkError(KindConnection, "open", fmt.Errorf("%w: %v", ErrConnection, err))
		}
		port, err := m.host.Open(name, baud)
		if err == nil {
			m.diag.Infof("opened %s at %d baud", name, baud)
			return port, baud, nil
		}
		m.diag.Debugf("open %s at %d baud: %v", name, baud, err)
		cause := classifyOpenError(err)
		if i == 0 {
			common = cause
		} else if cause != common {
			common = nil
		}
		last = err
	}
	if common != nil {
		return nil, 0, linkError(kindFor(common), "open", fmt.Errorf("%w: %v", common, last))
	}
	return nil, 0, linkError(KindOpenFailed, "open", fmt.Errorf("%w: %v", ErrOpenFailedAllBauds, last))
}

func (m *Manager) watch(sess *session) {
	if m.opts.Hotplug == nil {
		return
	}
	unwatch, err := m.opts.Hotplug.Watch(sess.info.Name, func() {
		go m.lost(sess)
	})
	if err != nil {
		m.diag.Warnf("device removal detection unavailable: %v", err)
		return
	}
	sess.unwatch = unwatch
}

// lost handles removal of the device behind sess.
func (m *Manager) lost(sess *session) {
	m.mu.Lock()
	current := m.sess == sess
	m.mu.Unlock()
	if !current {
		return
	}
	err := linkError(KindPortUnavailable, "hotplug", fmt.Errorf("%w: %s", ErrPortDisconnected, sess.info.Name))
	m.diag.Warnf("%s (%s removed)", UserMessage(err), sess.info.Name)
	m.Stop()
	m.notify(err)
}

// run is the read loop: one per link, ending at the first line.
func (m *Manager) run(sess *session, text io.Reader, handle transport.LineHandler) {
	line, err := readLine(text)
	close(sess.done)

	switch {
	case err == nil:
		m.setState(sess, StateConnected)
		m.diag.Infof("received %d bytes from %s", len(line), sess.info.Name)
		if handle != nil {
			handle(payload.NewRawScanLine(line, payload.SourceSerial))
		}
	case sess.ctx.Err() != nil:
		// stopped
	case errors.Is(err, io.EOF):
		m.diag.Infof("serial stream on %s ended", sess.info.Name)
		m.stopSession(sess)
	default:
		rerr := linkError(KindReadError, "read", fmt.Errorf("%w: %v", ErrReadFailed, err))
		m.setState(sess, StateConnected)
		m.diag.Errorf("%s (%v)", UserMessage(rerr), err)
		m.notify(rerr)
	}
}

// readLine returns the first complete non-blank line. A partial line at
// the end of the stream is dropped.
func readLine(r io.Reader) (string, error) {
	buf := make([]byte, 256)
	var pending string
	for {
		n, err := r.Read(buf)
		if n > 0 {
			var lines []string
			lines, pending = SplitLines(pending + string(buf[:n]))
			for _, l := range lines {
				if strings.TrimSpace(l) != "" {
					return l, nil
				}
			}
		}
		if err != nil {
			return "", err
		}
	}
}

func (m *Manager) stopSession(sess *session) {
	m.mu.Lock()
	current := m.sess == sess
	m.mu.Unlock()
	if current {
		m.Stop()
	}
}

func (m *Manager) setState(sess *session, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == sess {
		m.state = st
	}
}

func (m *Manager) notify(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
