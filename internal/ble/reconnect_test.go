package ble

import (
	"errors"
	"testing"
	"time"
)

func TestPeerDisconnectAfterReadyRescans(t *testing.T) {
	adapter := newMockAdapter([]Device{testPeer})
	h := newHarness(t, adapter)
	first := h.connectReady(t)

	first.SimulateDisconnect()

	waitFor(t, "second connect", func() bool {
		_, connects := adapter.counts()
		return connects == 2
	})
	if scans, _ := adapter.counts(); scans != 2 {
		t.Errorf("scans = %d, want 2", scans)
	}
	if h.session.Ready() {
		t.Error("Ready() should be false until the new link receives a nonce")
	}
	if first.disconnectCount() != 0 {
		t.Errorf("dropped link Disconnect() called %d times, want 0", first.disconnectCount())
	}

	second := adapter.latestConnection()
	waitFor(t, "nonce request on new link", func() bool { return len(second.writeChar.Writes()) == 1 })
	h.deliverNonce(t, second, "0badf00d")
}

func TestPeerDisconnectBeforeReadyDoesNotRescan(t *testing.T) {
	adapter := newMockAdapter([]Device{testPeer})
	h := newHarness(t, adapter)
	conn := h.awaitNonceRequest(t)

	conn.SimulateDisconnect()

	waitFor(t, "disconnected", func() bool { return h.session.State() == StateDisconnected })
	time.Sleep(20 * time.Millisecond)
	if scans, connects := adapter.counts(); scans != 1 || connects != 1 {
		t.Errorf("scans, connects = %d, %d, want 1, 1", scans, connects)
	}
}

func TestStopDoesNotRescan(t *testing.T) {
	adapter := newMockAdapter([]Device{testPeer})
	h := newHarness(t, adapter)
	conn := h.connectReady(t)

	h.session.Stop()
	if conn.disconnectCount() != 1 {
		t.Errorf("Disconnect() called %d times, want 1", conn.disconnectCount())
	}

	// The platform reports the link loss after our own disconnect.
	conn.SimulateDisconnect()
	time.Sleep(20 * time.Millisecond)

	if st := h.session.State(); st != StateIdle {
		t.Errorf("State() = %v, want %v", st, StateIdle)
	}
	if scans, _ := adapter.counts(); scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
}

func TestStartWhileConnectedRestarts(t *testing.T) {
	adapter := newMockAdapter([]Device{testPeer})
	h := newHarness(t, adapter)
	first := h.connectReady(t)

	if err := h.session.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if first.disconnectCount() != 1 {
		t.Errorf("old link Disconnect() called %d times, want 1", first.disconnectCount())
	}
	waitFor(t, "reconnect", func() bool {
		_, connects := adapter.counts()
		return connects == 2
	})

	// A late nonce on the old link must not make the new session ready.
	first.notifyChar.SimulateNotification([]byte("deadbeef"))
	time.Sleep(20 * time.Millisecond)
	if h.session.Ready() {
		t.Error("notification from a torn-down link made the session ready")
	}
}

func TestConnectFailureDoesNotRescan(t *testing.T) {
	adapter := newMockAdapter([]Device{testPeer})
	adapter.connectErr = errors.New("connection timed out")
	h := newHarness(t, adapter)
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "connect fault", func() bool { return h.sink.hasFault(FaultConnect) })
	waitFor(t, "idle", func() bool { return h.session.State() == StateIdle })
	time.Sleep(20 * time.Millisecond)
	if scans, _ := adapter.counts(); scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
}

func TestRescanAfterFaultRecovers(t *testing.T) {
	adapter := newMockAdapter([]Device{testPeer})
	adapter.connectErr = errors.New("connection timed out")
	h := newHarness(t, adapter)
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "idle after fault", func() bool { return h.sink.hasFault(FaultConnect) && h.session.State() == StateIdle })

	adapter.mu.Lock()
	adapter.connectErr = nil
	adapter.mu.Unlock()

	h.connectReady(t)
}
