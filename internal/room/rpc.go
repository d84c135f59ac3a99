package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/roomwire/roomwire/internal/protocol"
)

type rpcResult struct {
	value json.RawMessage
	err   error
}

type pendingCall struct {
	ch chan rpcResult

	timerMu sync.Mutex
	timer   *time.Timer
}

func (pc *pendingCall) setTimer(t *time.Timer) {
	pc.timerMu.Lock()
	pc.timer = t
	pc.timerMu.Unlock()
}

func (pc *pendingCall) stopTimer() {
	pc.timerMu.Lock()
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.timerMu.Unlock()
}

func (pc *pendingCall) settle(value json.RawMessage, err error) {
	pc.ch <- rpcResult{value: value, err: err}
}

// CallWithResult issues a correlated call and waits for the matching
// callback envelope. The correlation id is appended to the argument list.
// Expiry of RPCTimeout rejects with ErrRPCTimeout and affects only this
// call, never the session.
func (s *Session) CallWithResult(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.conn == nil || s.state < StateOpen || s.state > StateConnected {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot call in state %s", ErrSessionClosed, st)
	}
	s.nextCallID++
	id := s.nextCallID
	pc := &pendingCall{ch: make(chan rpcResult, 1)}
	s.pending[id] = pc
	s.mu.Unlock()

	pc.setTimer(time.AfterFunc(s.cfg.RPCTimeout, func() {
		s.metrics.RPCTimeout()
		s.settleCall(id, nil, ErrRPCTimeout)
	}))

	callArgs := append(append([]any{}, args...), id)
	if err := s.send(protocol.CallPayload{Fn: fn, Args: callArgs}); err != nil {
		s.settleCall(id, nil, err)
		<-pc.ch
		return nil, err
	}

	select {
	case res := <-pc.ch:
		return res.value, res.err
	case <-ctx.Done():
		s.settleCall(id, nil, ctx.Err())
		return nil, ctx.Err()
	}
}

// settleCall resolves one pending id exactly once and removes it. Unknown
// or already-settled ids are ignored.
func (s *Session) settleCall(id uint64, value json.RawMessage, err error) {
	s.mu.Lock()
	pc, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	pc.stopTimer()
	pc.settle(value, err)
}

// handleCallback serves the "callback" envelope: {id, args: [error, value]}.
func (s *Session) handleCallback(payload []byte) error {
	var body struct {
		ID   uint64            `json:"id"`
		Args []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}

	var remoteErr error
	var value json.RawMessage
	if len(body.Args) > 0 && !isJSONNull(body.Args[0]) {
		remoteErr = fmt.Errorf("%w: %s", ErrRemoteCall, body.Args[0])
	}
	if len(body.Args) > 1 {
		value = body.Args[1]
	}
	s.settleCall(body.ID, value, remoteErr)
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
