package engine

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Op identifies a queued instruction.
type Op int

const (
	OpMoveToFast Op = iota
	OpMoveToSlow
	OpCopy
	OpZero
	OpTranspose
	OpMatMul
	OpExp
	OpRowSum
	OpRowMax
	OpDiv
	OpAdd
	OpSub
	OpMax
	OpConcatRows
	OpRelease
)

var opNames = [...]string{
	OpMoveToFast: "MoveToFast",
	OpMoveToSlow: "MoveToSlow",
	OpCopy:       "Copy",
	OpZero:       "Zero",
	OpTranspose:  "Transpose",
	OpMatMul:     "MatMul",
	OpExp:        "Exp",
	OpRowSum:     "RowSum",
	OpRowMax:     "RowMax",
	OpDiv:        "Div",
	OpAdd:        "Add",
	OpSub:        "Sub",
	OpMax:        "Max",
	OpConcatRows: "ConcatRows",
	OpRelease:    "Release",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

type instruction struct {
	op       Op
	operands []Handle
	dst      Handle // zero for instructions acting on their operand in place
	location Location
}

type Options struct {
	// FastMemoryLimit bounds the number of elements resident in fast memory; 0 means unlimited.
	FastMemoryLimit int
}

type Stats struct {
	Flushes          int
	FailedFlushes    int
	Instructions     int
	PeakFastElements int
}

// Simulator is the command queue and execution engine of the simulated device.
// Instructions are only recorded when issued; Flush validates and executes them
// in issue order.
type Simulator struct {
	store   *Store
	options Options

	queue []instruction
	stats Stats
}

func NewSimulator(store *Store, options Options) *Simulator {
	return &Simulator{
		store:   store,
		options: options,
	}
}

func (s *Simulator) Store() *Store {
	return s.store
}

func (s *Simulator) Stats() Stats {
	return s.stats
}

// Pending is the number of instructions waiting for the next Flush.
func (s *Simulator) Pending() int {
	return len(s.queue)
}

// Discard drops the pending instructions without executing them and returns
// how many there were.
func (s *Simulator) Discard() int {
	n := len(s.queue)
	s.queue = nil
	return n
}

func (s *Simulator) enqueue(inst instruction) {
	s.queue = append(s.queue, inst)
}

func (s *Simulator) MoveToFast(h Handle) {
	s.enqueue(instruction{op: OpMoveToFast, operands: []Handle{h}})
}

func (s *Simulator) MoveToSlow(h Handle) {
	s.enqueue(instruction{op: OpMoveToSlow, operands: []Handle{h}})
}

// Copy writes a copy of src into dst, placing dst at location.
func (s *Simulator) Copy(src, dst Handle, location Location) {
	s.enqueue(instruction{op: OpCopy, operands: []Handle{src}, dst: dst, location: location})
}

func (s *Simulator) Zero(h Handle) {
	s.enqueue(instruction{op: OpZero, operands: []Handle{h}})
}

// Transpose transposes h in place; h must already be at location.
func (s *Simulator) Transpose(h Handle, location Location) {
	s.enqueue(instruction{op: OpTranspose, operands: []Handle{h}, location: location})
}

func (s *Simulator) MatMul(a, b, dst Handle) {
	s.enqueue(instruction{op: OpMatMul, operands: []Handle{a, b}, dst: dst})
}

func (s *Simulator) Exp(src, dst Handle) {
	s.enqueue(instruction{op: OpExp, operands: []Handle{src}, dst: dst})
}

func (s *Simulator) RowSum(src, dst Handle) {
	s.enqueue(instruction{op: OpRowSum, operands: []Handle{src}, dst: dst})
}

func (s *Simulator) RowMax(src, dst Handle) {
	s.enqueue(instruction{op: OpRowMax, operands: []Handle{src}, dst: dst})
}

// Div divides numerator by denominator, which is either the same shape or a [rows,1] column.
func (s *Simulator) Div(numerator, denominator, dst Handle) {
	s.enqueue(instruction{op: OpDiv, operands: []Handle{numerator, denominator}, dst: dst})
}

func (s *Simulator) Add(a, b, dst Handle) {
	s.enqueue(instruction{op: OpAdd, operands: []Handle{a, b}, dst: dst})
}

// Sub subtracts b, the same shape as a or a [rows,1] column, from a.
func (s *Simulator) Sub(a, b, dst Handle) {
	s.enqueue(instruction{op: OpSub, operands: []Handle{a, b}, dst: dst})
}

func (s *Simulator) Max(a, b, dst Handle) {
	s.enqueue(instruction{op: OpMax, operands: []Handle{a, b}, dst: dst})
}

func (s *Simulator) ConcatRows(a, b, dst Handle) {
	s.enqueue(instruction{op: OpConcatRows, operands: []Handle{a, b}, dst: dst})
}

func (s *Simulator) Release(h Handle) {
	s.enqueue(instruction{op: OpRelease, operands: []Handle{h}})
}

// Flush executes the queued instructions in order. Either every instruction
// succeeds and its effects are committed to the store, or the first failure is
// returned as a *SimulationError and the store is left as it was. The queue is
// empty afterwards in both cases.
func (s *Simulator) Flush(ctx context.Context, verbose bool) error {
	log := klog.FromContext(ctx)

	queue := s.queue
	s.queue = nil

	state := newFlushState(s.store)
	for i, inst := range queue {
		if err := state.execute(inst); err != nil {
			s.stats.FailedFlushes++
			return &SimulationError{Index: i, Op: inst.op, Operands: state.describe(inst), Err: err}
		}
		if limit := s.options.FastMemoryLimit; limit > 0 && state.fastUsed > limit {
			s.stats.FailedFlushes++
			err := fmt.Errorf("%w: %d elements resident, limit %d", ErrFastMemoryExhausted, state.fastUsed, limit)
			return &SimulationError{Index: i, Op: inst.op, Operands: state.describe(inst), Err: err}
		}
		if state.fastUsed > s.stats.PeakFastElements {
			s.stats.PeakFastElements = state.fastUsed
		}
		if verbose {
			log.Info("executed instruction", "index", i, "op", inst.op, "operands", state.describe(inst), "result", state.trace(inst))
		}
	}

	state.commit()
	s.stats.Flushes++
	s.stats.Instructions += len(queue)
	return nil
}

// tensorState is the staged view of one slot during a flush.
type tensorState struct {
	live     bool
	location Location
	data     *mat.Dense
}

type flushState struct {
	store *Store

	pending  map[int32]*tensorState
	order    []int32
	fastUsed int
}

func newFlushState(store *Store) *flushState {
	return &flushState{
		store:    store,
		pending:  make(map[int32]*tensorState),
		fastUsed: store.fastElements(),
	}
}

func (f *flushState) get(h Handle) (*tensorState, error) {
	sl, err := f.store.lookup(h)
	if err != nil {
		return nil, err
	}
	if ts, found := f.pending[h.slot]; found {
		if !ts.live {
			return nil, fmt.Errorf("%w: %q was released earlier in this flush", ErrStaleHandle, sl.name)
		}
		return ts, nil
	}
	return &tensorState{live: true, location: sl.location, data: sl.data}, nil
}

func (f *flushState) defined(h Handle) (*tensorState, error) {
	ts, err := f.get(h)
	if err != nil {
		return nil, err
	}
	if ts.data == nil {
		return nil, fmt.Errorf("%w: %q", ErrUndefined, f.name(h))
	}
	return ts, nil
}

func (f *flushState) at(h Handle, location Location) (*mat.Dense, error) {
	ts, err := f.defined(h)
	if err != nil {
		return nil, err
	}
	if ts.location != location {
		return nil, fmt.Errorf("%w: %q is in %v, want %v", ErrLocation, f.name(h), ts.location, location)
	}
	return ts.data, nil
}

func (f *flushState) set(h Handle, next *tensorState) {
	previous, err := f.get(h)
	if err == nil {
		f.fastUsed -= elements(previous.live, previous.location, previous.data)
	}
	f.fastUsed += elements(next.live, next.location, next.data)
	if _, found := f.pending[h.slot]; !found {
		f.order = append(f.order, h.slot)
	}
	f.pending[h.slot] = next
}

func (f *flushState) write(dst Handle, data *mat.Dense) error {
	if _, err := f.get(dst); err != nil {
		return err
	}
	f.set(dst, &tensorState{live: true, location: FastMemory, data: data})
	return nil
}

func (f *flushState) release(h Handle) error {
	if err := f.store.checkRelease(h); err != nil {
		return err
	}
	if ts, found := f.pending[h.slot]; found && !ts.live {
		return fmt.Errorf("%w: %q", ErrDoubleRelease, f.name(h))
	}
	f.set(h, &tensorState{})
	return nil
}

func (f *flushState) execute(inst instruction) error {
	switch inst.op {
	case OpMoveToFast, OpMoveToSlow:
		h := inst.operands[0]
		ts, err := f.defined(h)
		if err != nil {
			return err
		}
		location := FastMemory
		if inst.op == OpMoveToSlow {
			location = SlowMemory
		}
		f.set(h, &tensorState{live: true, location: location, data: ts.data})
		return nil

	case OpCopy:
		src, err := f.defined(inst.operands[0])
		if err != nil {
			return err
		}
		if _, err := f.get(inst.dst); err != nil {
			return err
		}
		if inst.location == Unplaced {
			return fmt.Errorf("%w: cannot copy to %v", ErrLocation, inst.location)
		}
		f.set(inst.dst, &tensorState{live: true, location: inst.location, data: src.data})
		return nil

	case OpZero:
		h := inst.operands[0]
		a, err := f.at(h, FastMemory)
		if err != nil {
			return err
		}
		f.set(h, &tensorState{live: true, location: FastMemory, data: zeros(a)})
		return nil

	case OpTranspose:
		h := inst.operands[0]
		a, err := f.at(h, inst.location)
		if err != nil {
			return err
		}
		f.set(h, &tensorState{live: true, location: inst.location, data: transpose(a)})
		return nil

	case OpRelease:
		return f.release(inst.operands[0])
	}

	inputs := make([]*mat.Dense, len(inst.operands))
	for i, h := range inst.operands {
		a, err := f.at(h, FastMemory)
		if err != nil {
			return err
		}
		inputs[i] = a
	}

	var result *mat.Dense
	var err error
	switch inst.op {
	case OpMatMul:
		result, err = matMul(inputs[0], inputs[1])
	case OpExp:
		result = exp(inputs[0])
	case OpRowSum:
		result = rowSum(inputs[0])
	case OpRowMax:
		result = rowMax(inputs[0])
	case OpDiv:
		result, err = div(inputs[0], inputs[1])
	case OpAdd:
		result, err = add(inputs[0], inputs[1])
	case OpSub:
		result, err = sub(inputs[0], inputs[1])
	case OpMax:
		result, err = maximum(inputs[0], inputs[1])
	case OpConcatRows:
		result, err = concatRows(inputs[0], inputs[1])
	default:
		return fmt.Errorf("unsupported operation: %v", inst.op)
	}
	if err != nil {
		return err
	}
	if err := checkFinite(inst.op, result); err != nil {
		return err
	}
	return f.write(inst.dst, result)
}

func (f *flushState) commit() {
	for _, index := range f.order {
		ts := f.pending[index]
		if !ts.live {
			f.store.release(index)
			continue
		}
		sl := &f.store.slots[index]
		sl.location = ts.location
		sl.data = ts.data
	}
}

func (f *flushState) name(h Handle) string {
	if h.slot >= 0 && int(h.slot) < len(f.store.slots) && f.store.slots[h.slot].gen == h.gen {
		return f.store.slots[h.slot].name
	}
	return h.String()
}

func (f *flushState) describe(inst instruction) []string {
	names := make([]string, 0, len(inst.operands)+1)
	for _, h := range inst.operands {
		names = append(names, f.name(h))
	}
	if !inst.dst.IsZero() {
		names = append(names, "-> "+f.name(inst.dst))
	}
	return names
}

func (f *flushState) trace(inst instruction) string {
	h := inst.dst
	if h.IsZero() {
		h = inst.operands[0]
	}
	ts, found := f.pending[h.slot]
	if !found || ts.data == nil {
		return "released"
	}
	return fmt.Sprintf("%v %v", ts.location, mat.Formatted(ts.data, mat.Squeeze()))
}
