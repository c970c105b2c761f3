package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	blecrypto "github.com/chaz8081/bleremote/internal/ble/crypto"
	"github.com/chaz8081/bleremote/internal/ble/protocol"
)

// SecretProvider supplies the shared HMAC key. Bytes must return a fresh
// copy; the session zeroes it after a single use.
type SecretProvider interface {
	Bytes() ([]byte, error)
}

// Sink receives human-readable lifecycle events. Calls arrive in order on a
// dedicated goroutine and queue without bound, so a slow sink never stalls
// the session and may call back into it.
type Sink interface {
	Status(msg string)
	Error(err error)
	Ready(ready bool)
}

// SessionOptions configures the Session behavior.
type SessionOptions struct {
	DeviceName     string
	ServiceUUID    string
	MTU            int           // ATT MTU requested after connecting
	NonceTTL       time.Duration // how long a received nonce stays usable
	ConnectTimeout time.Duration
	Clock          clockwork.Clock
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ServiceUUID:    ServiceUUID,
		MTU:            DefaultMTU,
		NonceTTL:       10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Clock:          clockwork.NewRealClock(),
	}
}

// Session manages the single link to the remote control peripheral.
//
// All mutable fields are owned by the run goroutine. Public methods and
// transport callbacks only post events to it, so a disconnect racing a
// write completion is handled in arrival order. Events carry the
// generation they were issued under; anything from a torn-down cycle is
// dropped.
type Session struct {
	adapter Adapter
	secrets SecretProvider
	sink    Sink
	opts    SessionOptions
	filter  ScanFilter

	events  chan any
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	state atomic.Int32
	ready atomic.Bool

	// notesMu guards notes. The run goroutine appends and never waits on
	// the dispatcher, so a sink may call back into the Session.
	notesMu sync.Mutex
	notes   []func()
	wake    chan struct{}

	// run goroutine only
	gen           uint64
	scanning      bool
	scanCancel    context.CancelFunc
	connectCancel context.CancelFunc
	conn          Connection
	writeChar     Characteristic
	notifyChar    Characteristic
	writeAck      bool
	mtu           int
	nonce         string
	nonceAt       time.Time
	nonceTimer    clockwork.Timer
	awaitingNonce bool // a command was written and its follow-up nonce is pending
	reachedReady  bool
}

type requestOp int

const (
	opStart requestOp = iota
	opStop
	opSend
	opRequestNonce
)

type request struct {
	op    requestOp
	cmd   protocol.Command
	reply chan error
}

type writeKind int

const (
	writeNonceRequest writeKind = iota
	writeCommand
)

type (
	scanResultEvent struct {
		gen    uint64
		device Device
	}
	scanEndedEvent struct {
		gen uint64
		err error
	}
	connectEvent struct {
		gen  uint64
		conn Connection
		err  error
	}
	mtuEvent struct {
		gen uint64
		mtu int
		err error
	}
	discoverEvent struct {
		gen   uint64
		chars []Characteristic
		err   error
	}
	subscribeEvent struct {
		gen uint64
		err error
	}
	writeEvent struct {
		gen  uint64
		kind writeKind
		err  error
	}
	notificationEvent struct {
		gen  uint64
		data []byte
	}
	peerDisconnectEvent struct {
		gen uint64
	}
	nonceExpiredEvent struct {
		gen uint64
		at  time.Time
	}
)

// NewSession creates a session and starts its event loop. Call Close to
// release it.
func NewSession(adapter Adapter, secrets SecretProvider, sink Sink, opts SessionOptions) *Session {
	def := DefaultSessionOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.MTU <= 0 {
		opts.MTU = def.MTU
	}
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = def.NonceTTL
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}

	s := &Session{
		adapter: adapter,
		secrets: secrets,
		sink:    sink,
		opts:    opts,
		filter:  ScanFilter{Name: opts.DeviceName, ServiceUUID: opts.ServiceUUID},
		events:  make(chan any, 64),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	go s.dispatch()
	return s
}

// Start tears down any existing link and begins scanning for the peripheral.
// It returns once scanning has begun; progress is reported to the Sink.
func (s *Session) Start() error {
	return s.call(request{op: opStart})
}

// Stop cancels any scan, disconnects, and clears the session. It is safe to
// call from any state and any number of times.
func (s *Session) Stop() {
	_ = s.call(request{op: opStop})
}

// SendCommand authenticates cmd with the held nonce and writes one frame.
// It fails with ErrNotConnected or ErrNoFreshNonce when the preconditions
// do not hold. The write itself completes asynchronously.
func (s *Session) SendCommand(cmd protocol.Command) error {
	return s.call(request{op: opSend, cmd: cmd})
}

// RequestNonce asks the peripheral for a new nonce.
func (s *Session) RequestNonce() error {
	return s.call(request{op: opRequestNonce})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Ready reports whether the link is up and a fresh nonce is held.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Close stops the session and ends its event loop.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Session) call(req request) error {
	req.reply = make(chan error, 1)
	select {
	case s.events <- req:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// post delivers an event from a transport callback or worker goroutine.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			s.teardown(true)
			s.setState(StateIdle)
			return
		}
	}
}

func (s *Session) dispatch() {
	for {
		select {
		case <-s.wake:
			for fn := s.nextNote(); fn != nil; fn = s.nextNote() {
				fn()
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) nextNote() func() {
	s.notesMu.Lock()
	defer s.notesMu.Unlock()
	if len(s.notes) == 0 {
		return nil
	}
	fn := s.notes[0]
	s.notes[0] = nil
	s.notes = s.notes[1:]
	return fn
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case request:
		ev.reply <- s.handleRequest(ev)
	case scanResultEvent:
		s.onScanResult(ev)
	case scanEndedEvent:
		s.onScanEnded(ev)
	case connectEvent:
		s.onConnect(ev)
	case mtuEvent:
		s.onMTU(ev)
	case discoverEvent:
		s.onDiscover(ev)
	case subscribeEvent:
		s.onSubscribe(ev)
	case writeEvent:
		s.onWrite(ev)
	case notificationEvent:
		s.onNotification(ev)
	case peerDisconnectEvent:
		s.onPeerDisconnect(ev)
	case nonceExpiredEvent:
		s.onNonceExpired(ev)
	default:
		slog.Error("[BLE] unknown session event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) handleRequest(req request) error {
	switch req.op {
	case opStart:
		return s.start()
	case opStop:
		s.stop()
		return nil
	case opSend:
		return s.send(req.cmd)
	case opRequestNonce:
		if s.writeChar == nil {
			s.reportError(ErrNotConnected)
			return ErrNotConnected
		}
		s.requestNonce()
		return nil
	}
	return fmt.Errorf("ble: unknown request %d", req.op)
}

func (s *Session) start() error {
	if st := s.State(); st != StateIdle && st != StateDisconnected {
		slog.Info("[BLE] restarting session", "state", st)
		s.teardown(true)
		s.setState(StateIdle)
	}
	if err := s.adapter.Enable(); err != nil {
		f := newFault(FaultLinkDisabled, "link disabled", err)
		s.reportError(f)
		return f
	}
	s.beginScan()
	return nil
}

func (s *Session) stop() {
	wasIdle := s.State() == StateIdle
	s.teardown(true)
	s.setState(StateIdle)
	if !wasIdle {
		slog.Info("[BLE] session stopped")
		s.status("Stopped")
	}
}

func (s *Session) beginScan() {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.scanning = true
	s.setState(StateScanning)
	s.status("Scanning...")
	slog.Info("[BLE] scanning", "name", s.filter.Name, "service", s.filter.ServiceUUID)

	go func() {
		err := s.adapter.Scan(ctx, s.opts.ServiceUUID, func(d Device) {
			s.post(scanResultEvent{gen: gen, device: d})
		})
		s.post(scanEndedEvent{gen: gen, err: err})
	}()
}

func (s *Session) stopScan() {
	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	if s.scanning {
		s.scanning = false
		if err := s.adapter.StopScan(); err != nil {
			slog.Debug("[BLE] stop scan", "error", err)
		}
	}
}

func (s *Session) onScanResult(ev scanResultEvent) {
	if ev.gen != s.gen || s.State() != StateScanning {
		return
	}
	if !s.filter.Matches(ev.device) {
		return
	}
	s.stopScan()

	label := ev.device.Name
	if label == "" {
		label = ev.device.Address
	}
	slog.Info("[BLE] peer found", "name", ev.device.Name, "address", ev.device.Address, "rssi", ev.device.RSSI)
	s.setState(StateConnecting)
	s.status(fmt.Sprintf("Found %s, connecting...", label))

	gen := s.gen
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	s.connectCancel = cancel
	device := ev.device
	go func() {
		conn, err := s.adapter.Connect(ctx, device)
		s.post(connectEvent{gen: gen, conn: conn, err: err})
	}()
}

func (s *Session) onScanEnded(ev scanEndedEvent) {
	if ev.gen != s.gen || s.State() != StateScanning {
		return
	}
	s.scanning = false
	if ev.err != nil {
		s.abort(newFault(FaultScan, "scan failed", ev.err))
	}
}

func (s *Session) onConnect(ev connectEvent) {
	if ev.gen != s.gen || s.State() != StateConnecting {
		// The session moved on while the connect was in flight; do not
		// leave the late connection dangling.
		if ev.conn != nil {
			go func() { _ = ev.conn.Disconnect() }()
		}
		return
	}
	if s.connectCancel != nil {
		s.connectCancel()
		s.connectCancel = nil
	}
	if ev.err != nil {
		s.abort(newFault(FaultConnect, "connect failed", ev.err))
		return
	}

	s.conn = ev.conn
	gen := s.gen
	s.conn.OnDisconnect(func() {
		s.post(peerDisconnectEvent{gen: gen})
	})

	s.setState(StateNegotiatingLink)
	s.status("Connected. Negotiating MTU...")
	conn, size := s.conn, s.opts.MTU
	go func() {
		mtu, err := conn.RequestMTU(size)
		s.post(mtuEvent{gen: gen, mtu: mtu, err: err})
	}()
}

func (s *Session) onMTU(ev mtuEvent) {
	if ev.gen != s.gen || s.State() != StateNegotiatingLink {
		return
	}
	if ev.err != nil {
		s.abort(newFault(FaultMTU, "MTU negotiation failed", ev.err))
		return
	}
	s.mtu = ev.mtu
	slog.Debug("[BLE] MTU negotiated", "requested", s.opts.MTU, "mtu", ev.mtu)

	s.setState(StateDiscoveringServices)
	s.status("MTU OK. Discovering services...")
	gen, conn, svc := s.gen, s.conn, s.opts.ServiceUUID
	go func() {
		chars, err := conn.DiscoverCharacteristics(svc)
		s.post(discoverEvent{gen: gen, chars: chars, err: err})
	}()
}

func (s *Session) onDiscover(ev discoverEvent) {
	if ev.gen != s.gen || s.State() != StateDiscoveringServices {
		return
	}
	if ev.err != nil {
		s.abort(newFault(FaultDiscovery, "service discovery failed", ev.err))
		return
	}

	var writeChar, notifyChar Characteristic
	for _, c := range ev.chars {
		p := c.Properties()
		if writeChar == nil && p.CanWrite() {
			writeChar = c
		}
		if notifyChar == nil && p.CanNotify() {
			notifyChar = c
		}
	}
	if writeChar == nil || notifyChar == nil {
		s.abort(newFault(FaultEndpointsMissing, "required endpoints not found", nil))
		return
	}

	s.writeChar = writeChar
	s.notifyChar = notifyChar
	// Acknowledged writes when the peripheral supports them.
	s.writeAck = writeChar.Properties()&PropertyWrite != 0
	slog.Debug("[BLE] endpoints discovered",
		"write", writeChar.UUID(), "notify", notifyChar.UUID(), "ack", s.writeAck)

	s.setState(StateSubscribing)
	gen := s.gen
	go func() {
		err := notifyChar.Subscribe(func(data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			s.post(notificationEvent{gen: gen, data: cp})
		})
		s.post(subscribeEvent{gen: gen, err: err})
	}()
}

func (s *Session) onSubscribe(ev subscribeEvent) {
	if ev.gen != s.gen {
		return
	}
	if ev.err != nil {
		s.abort(newFault(FaultSubscribe, "failed to enable notifications", ev.err))
		return
	}
	if s.State() != StateSubscribing {
		// The peripheral pushed a nonce before the subscription was acknowledged.
		return
	}
	slog.Info("[BLE] subscribed, requesting nonce")
	s.setState(StateAwaitingChallenge)
	s.requestNonce()
}

// requestNonce writes the nonce request sentinel.
func (s *Session) requestNonce() {
	gen, char, ack := s.gen, s.writeChar, s.writeAck
	if st := s.State(); st != StateReady && st != StateSending {
		s.setState(StateAwaitingChallenge)
	}
	s.status("Requested new nonce...")
	go func() {
		err := char.Write([]byte(protocol.NonceRequest), ack)
		s.post(writeEvent{gen: gen, kind: writeNonceRequest, err: err})
	}()
}

func (s *Session) onWrite(ev writeEvent) {
	if ev.gen != s.gen {
		return
	}
	switch ev.kind {
	case writeNonceRequest:
		if ev.err != nil {
			s.reportError(newFault(FaultWrite, "nonce request write failed", ev.err))
		}
	case writeCommand:
		pending := s.awaitingNonce
		s.awaitingNonce = false
		if s.State() == StateSending {
			s.setState(StateAwaitingChallenge)
		}
		if ev.err != nil {
			s.reportError(newFault(FaultWrite, "command write failed", ev.err))
			return
		}
		if pending {
			s.requestNonce()
		}
	}
}

func (s *Session) onNotification(ev notificationEvent) {
	if ev.gen != s.gen || !s.State().connected() {
		return
	}
	nonce, err := protocol.ParseNonce(ev.data)
	if errors.Is(err, protocol.ErrEmptyNonce) {
		slog.Warn("[BLE] ignoring empty notification")
		return
	}
	if err != nil {
		s.reportError(err)
		return
	}

	s.nonce = nonce
	s.nonceAt = s.opts.Clock.Now()
	s.armNonceExpiry(s.opts.NonceTTL)
	s.awaitingNonce = false
	s.reachedReady = true
	s.setState(StateReady)
	s.setReady(true)
	slog.Debug("[BLE] nonce received", "len", len(nonce))
	s.status(fmt.Sprintf("Nonce received (%d hex chars)", len(nonce)))
}

func (s *Session) send(cmd protocol.Command) error {
	if s.conn == nil || s.writeChar == nil {
		s.reportError(ErrNotConnected)
		return ErrNotConnected
	}
	if !s.ready.Load() || !s.nonceFresh() {
		if s.nonce != "" {
			slog.Info("[BLE] discarding stale nonce", "age", s.opts.Clock.Since(s.nonceAt))
			s.invalidateNonce()
		}
		s.reportError(ErrNoFreshNonce)
		return ErrNoFreshNonce
	}
	if !cmd.Valid() {
		err := fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, cmd)
		s.reportError(err)
		return err
	}

	frame, err := s.authenticate(cmd)
	if err != nil {
		s.reportError(err)
		return err
	}

	// The nonce is single-use: drop it before the write completes.
	s.invalidateNonce()
	s.awaitingNonce = true
	s.setState(StateSending)

	gen, char, ack := s.gen, s.writeChar, s.writeAck
	payload := frame.Marshal()
	slog.Debug("[BLE] writing frame", "len", len(payload), "command", cmd)
	go func() {
		err := char.Write(payload, ack)
		s.post(writeEvent{gen: gen, kind: writeCommand, err: err})
	}()

	s.status(fmt.Sprintf("Sent command: %s", cmd))
	return nil
}

// authenticate borrows the secret for exactly one MAC computation.
func (s *Session) authenticate(cmd protocol.Command) (protocol.CommandFrame, error) {
	if s.secrets == nil {
		return protocol.CommandFrame{}, ErrSecretMissing
	}
	key, err := s.secrets.Bytes()
	defer blecrypto.Zero(key)
	if err != nil {
		return protocol.CommandFrame{}, fmt.Errorf("%w: %v", ErrSecretMissing, err)
	}
	if len(key) == 0 {
		return protocol.CommandFrame{}, ErrSecretMissing
	}
	return protocol.NewCommandFrame(cmd, s.nonce, key)
}

// nonceFresh reports whether a nonce is held and no older than NonceTTL.
func (s *Session) nonceFresh() bool {
	return s.nonce != "" && s.opts.Clock.Since(s.nonceAt) <= s.opts.NonceTTL
}

// armNonceExpiry schedules the held nonce to be dropped after d.
func (s *Session) armNonceExpiry(d time.Duration) {
	s.stopNonceTimer()
	gen, at := s.gen, s.nonceAt
	s.nonceTimer = s.opts.Clock.AfterFunc(d, func() {
		s.post(nonceExpiredEvent{gen: gen, at: at})
	})
}

func (s *Session) stopNonceTimer() {
	if s.nonceTimer != nil {
		s.nonceTimer.Stop()
		s.nonceTimer = nil
	}
}

func (s *Session) onNonceExpired(ev nonceExpiredEvent) {
	if ev.gen != s.gen || s.nonce == "" || !s.nonceAt.Equal(ev.at) {
		return
	}
	// Timers fire at the deadline; the window itself is inclusive.
	if s.nonceFresh() {
		s.armNonceExpiry(s.opts.NonceTTL - s.opts.Clock.Since(s.nonceAt) + time.Nanosecond)
		return
	}
	slog.Info("[BLE] nonce expired", "ttl", s.opts.NonceTTL)
	s.invalidateNonce()
	s.status("Nonce expired. Request a new one.")
}

func (s *Session) invalidateNonce() {
	s.stopNonceTimer()
	s.nonce = ""
	s.nonceAt = time.Time{}
	s.setReady(false)
	if s.State() == StateReady {
		s.setState(StateAwaitingChallenge)
	}
}

func (s *Session) onPeerDisconnect(ev peerDisconnectEvent) {
	if ev.gen != s.gen {
		return
	}
	resume := s.reachedReady
	slog.Warn("[BLE] peer disconnected", "state", s.State(), "resume", resume)
	// The link is already gone; only release our references.
	s.teardown(false)
	s.setState(StateDisconnected)
	s.status("Disconnected")
	if resume {
		s.beginScan()
	}
}

// abort reports a fault and tears the session down to Idle.
func (s *Session) abort(f *Fault) {
	slog.Error("[BLE] session aborted", "code", f.Code, "error", f)
	s.reportError(f)
	s.teardown(true)
	s.setState(StateIdle)
}

// teardown releases every handle and clears session fields. Bumping the
// generation first makes callbacks from the old link inert, so a
// self-initiated disconnect never triggers a rescan.
func (s *Session) teardown(disconnect bool) {
	s.gen++
	s.stopScan()
	if s.connectCancel != nil {
		s.connectCancel()
		s.connectCancel = nil
	}
	if s.conn != nil && disconnect {
		if err := s.conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect", "error", err)
		}
	}
	s.conn = nil
	s.writeChar = nil
	s.notifyChar = nil
	s.writeAck = false
	s.mtu = 0
	s.stopNonceTimer()
	s.nonce = ""
	s.nonceAt = time.Time{}
	s.awaitingNonce = false
	s.reachedReady = false
	s.setReady(false)
}

func (s *Session) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		slog.Debug("[BLE] state", "from", old, "to", st)
	}
}

func (s *Session) setReady(v bool) {
	if s.ready.Swap(v) != v {
		s.notify(func() { s.sink.Ready(v) })
	}
}

func (s *Session) status(msg string) {
	s.notify(func() { s.sink.Status(msg) })
}

func (s *Session) reportError(err error) {
	s.notify(func() { s.sink.Error(err) })
}

func (s *Session) notify(fn func()) {
	if s.sink == nil {
		return
	}
	s.notesMu.Lock()
	s.notes = append(s.notes, fn)
	s.notesMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
