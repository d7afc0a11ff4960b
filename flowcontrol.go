package h2

import "sync"

// flowWindow tracks one side of one flow-control scope (connection or
// stream), spec.md §4.3. Send-side blocking is modeled with a condition
// variable rather than a channel so many waiters can be woken cheaply
// when a single WINDOW_UPDATE arrives.
type flowWindow struct {
	mu        sync.Mutex
	cond      *sync.Cond
	send      int32
	recv      int32
	recvInit  int32
	consumed  int32 // bytes consumed by the caller since the last WINDOW_UPDATE we emitted
	closed    bool
}

func newFlowWindow(sendInit, recvInit int32) *flowWindow {
	w := &flowWindow{send: sendInit, recv: recvInit, recvInit: recvInit}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// waitForFull blocks until the window holds at least n bytes (or is
// closed), then subtracts exactly n. Used for a DATA frame whose byte
// content is already fixed, where sending fewer bytes than n is not an
// option (spec.md §4.3: "both conn.send_window ≥ n and S.send_window ≥ n
// must hold; otherwise block").
func (w *flowWindow) waitForFull(n int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.send < n && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return false
	}
	w.send -= n
	return true
}

// addSend increases the send window by delta (a WINDOW_UPDATE arrived,
// or a SETTINGS INITIAL_WINDOW_SIZE change retroactively adjusted it).
// Returns an error if the result would exceed the 2^31-1 ceiling
// (spec.md §4.3, invariant 6).
func (w *flowWindow) addSend(delta int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := int64(w.send) + delta
	if n > maxWindowSize {
		return ErrBitOverflow
	}
	w.send = int32(n)
	w.cond.Broadcast()
	return nil
}

func (w *flowWindow) closeSend() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// recvConsume charges n bytes of incoming DATA against the receive
// window and reports whether the window has now gone negative (a
// FlowControlError: the peer sent more than it was granted).
func (w *flowWindow) recvConsume(n int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recv -= n
	return w.recv < 0
}

// refillThreshold is the default fraction of the initial window below
// which we emit a WINDOW_UPDATE (spec.md §4.3: "below half of its
// initial value").
const refillThresholdNum, refillThresholdDen = 1, 2

// consume records that the caller has finished processing n bytes of
// body, and returns a WINDOW_UPDATE increment to send if the refill
// threshold was crossed (0 otherwise).
func (w *flowWindow) consume(n int32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consumed += n

	if w.recv <= w.recvInit*refillThresholdNum/refillThresholdDen || w.consumed >= w.recvInit {
		inc := w.consumed
		w.consumed = 0
		w.recv += inc
		return uint32(inc)
	}
	return 0
}

// setRecvInit adjusts the baseline used for refill-threshold comparisons
// when SETTINGS changes our own advertised INITIAL_WINDOW_SIZE (rare:
// only the local side's own setting, not the peer's).
func (w *flowWindow) setRecvInit(n int32) {
	w.mu.Lock()
	w.recvInit = n
	w.mu.Unlock()
}

// connFlowController owns the connection-scope window and creates
// per-stream windows with the currently negotiated INITIAL_WINDOW_SIZE.
type connFlowController struct {
	conn *flowWindow

	mu      sync.Mutex
	streams map[uint32]*flowWindow
}

func newConnFlowController(sendInit, recvInit int32) *connFlowController {
	return &connFlowController{
		conn:    newFlowWindow(sendInit, recvInit),
		streams: make(map[uint32]*flowWindow),
	}
}

func (c *connFlowController) newStream(id uint32, sendInit, recvInit int32) *flowWindow {
	w := newFlowWindow(sendInit, recvInit)
	c.mu.Lock()
	c.streams[id] = w
	c.mu.Unlock()
	return w
}

// remove releases a stream's flow-control record (spec.md §4.4: cleanup
// MUST release flow-control state on both END_STREAM and RST_STREAM).
func (c *connFlowController) remove(id uint32) {
	c.mu.Lock()
	w, ok := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if ok {
		w.closeSend()
	}
}

func (c *connFlowController) get(id uint32) (*flowWindow, bool) {
	c.mu.Lock()
	w, ok := c.streams[id]
	c.mu.Unlock()
	return w, ok
}

// adjustInitialWindow applies a SETTINGS INITIAL_WINDOW_SIZE change to
// every currently open stream's send window (spec.md §4.3).
func (c *connFlowController) adjustInitialWindow(delta int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.streams {
		if err := w.addSend(int64(delta)); err != nil {
			return NewConnError(FlowControlError, "INITIAL_WINDOW_SIZE change overflows a stream window")
		}
	}
	return nil
}
