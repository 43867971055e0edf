package query

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/metrics"
	"github.com/tobsdb/tdb/pkg"
)

const (
	writeStatePending    = "pending"
	writeStateIndexCheck = "indexCheck"
	writeStateWriting    = "writing"
	writeStateIndexing   = "indexing"
	writeStateEventing   = "eventing"
	writeStateDone       = "done"
	writeStateError      = "error"
)

const (
	writeEventCheck  = "check"
	writeEventWrite  = "write"
	writeEventIndex  = "index"
	writeEventEmit   = "emit"
	writeEventFinish = "finish"
	writeEventFail   = "fail"
)

// writeMachine tracks one row mutation through its stages. Inserts and
// deletes write the row before touching indexes; updates index first.
type writeMachine struct {
	fsm   *fsm.FSM
	op    string
	table string
	pk    any
}

func newWriteMachine(op, table string) *writeMachine {
	m := &writeMachine{op: op, table: table}
	m.fsm = fsm.NewFSM(
		writeStatePending,
		fsm.Events{
			{Name: writeEventCheck, Src: []string{writeStatePending}, Dst: writeStateIndexCheck},
			{Name: writeEventWrite, Src: []string{writeStateIndexCheck, writeStateIndexing}, Dst: writeStateWriting},
			{Name: writeEventIndex, Src: []string{writeStateIndexCheck, writeStateWriting}, Dst: writeStateIndexing},
			{Name: writeEventEmit, Src: []string{writeStateWriting, writeStateIndexing}, Dst: writeStateEventing},
			{Name: writeEventFinish, Src: []string{writeStateEventing}, Dst: writeStateDone},
			{
				Name: writeEventFail,
				Src: []string{
					writeStatePending, writeStateIndexCheck, writeStateWriting,
					writeStateIndexing, writeStateEventing,
				},
				Dst: writeStateError,
			},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				pkg.Logger().Debugw("write state", "op", m.op, "table", m.table, "pk", m.pk, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return m
}

// WriteError is returned by a failed row mutation. Stage is the state the
// write had reached, so pending and indexCheck failures left storage
// untouched. The message is the one of Err.
type WriteError struct {
	Op    string
	Table string
	Pk    any
	Stage string
	Err   error
}

func (e *WriteError) Error() string { return e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }
func (e *WriteError) Cause() error  { return e.Err }

// to moves the machine along. A refused transition means the stages ran
// out of order; callers stop before touching storage.
func (m *writeMachine) to(ctx context.Context, event string) error {
	if err := m.fsm.Event(context.WithoutCancel(ctx), event); err != nil {
		pkg.ErrorLog("write", m.op, "on", m.table, "cannot", event, "from", m.fsm.Current(), ";", err)
		return errors.Wrapf(err, "%s on %s cannot %s from %s", m.op, m.table, event, m.fsm.Current())
	}
	return nil
}

// step is to for transitions that follow a storage change. The change is
// already made, so a refusal is only logged.
func (m *writeMachine) step(ctx context.Context, event string) {
	_ = m.to(ctx, event)
}

// fail records the stage err happened in, moves the machine to the error
// state and returns err as a *WriteError.
func (m *writeMachine) fail(ctx context.Context, err error) error {
	stage := m.State()
	if !m.fsm.Is(writeStateError) {
		_ = m.fsm.Event(context.WithoutCancel(ctx), writeEventFail)
	}
	metrics.WriteFailuresTotal.WithLabelValues(m.op, m.table, stage).Inc()
	return &WriteError{Op: m.op, Table: m.table, Pk: m.pk, Stage: stage, Err: err}
}

func (m *writeMachine) State() string { return m.fsm.Current() }
