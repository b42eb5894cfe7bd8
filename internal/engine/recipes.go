package engine

import (
	"fmt"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/gccodes"
	"github.com/roach88/vmstate/internal/layout"
	"github.com/roach88/vmstate/internal/threads"
	"github.com/roach88/vmstate/internal/value"
)

// input is what a recipe may read: the event, the field layout and a
// read-only view of the session's thread bookkeeping.
type input struct {
	ev        event.Event
	f         *layout.Fields
	reg       *threads.Registry
	finalized map[int64]struct{}
}

type recipe func(in *input) (Plan, error)

// recipes holds one recipe per canonical kind.
var recipes = map[layout.Kind]recipe{
	layout.ThreadStart:           threadStart,
	layout.ThreadStop:            threadStop,
	layout.ThreadStatus:          threadStatus,
	layout.VMThreadStart:         vmThreadStart,
	layout.VMThreadStop:          vmThreadStop,
	layout.GCTaskThreadStart:     gcTaskThreadStart,
	layout.PoolGCBegin:           poolGC(true),
	layout.PoolGCEnd:             poolGC(false),
	layout.ReportGCStart:         reportGC(true),
	layout.ReportGCEnd:           reportGC(false),
	layout.MethodCompileBegin:    methodCompile(true),
	layout.MethodCompileEnd:      methodCompile(false),
	layout.MonitorContendedEnter: monitorBlock(StatusMonitorContends),
	layout.MonitorContendedDone:  monitorRelease,
	layout.MonitorWait:           monitorBlock(StatusMonitorWait),
	layout.MonitorWaited:         monitorRelease,
	layout.VMOpsBegin:            taskBegin(threads.VM, StatusVMOp),
	layout.VMOpsEnd:              taskEnd(threads.VM),
	layout.GCTaskStart:           taskBegin(threads.GC, StatusGCBusy),
	layout.GCTaskEnd:             taskEnd(threads.GC),
	layout.SchedSwitch:           schedSwitch,
}

// fieldReader collects the first field error so recipes can read several
// fields before checking.
type fieldReader struct {
	ev  event.Event
	err error
}

func (r *fieldReader) int(name string) int64 {
	if r.err != nil {
		return 0
	}
	n, err := r.ev.Int(name)
	r.err = err
	return n
}

func (r *fieldReader) text(name string) string {
	if r.err != nil {
		return ""
	}
	s, err := r.ev.Text(name)
	r.err = err
	return s
}

func (in *input) read() *fieldReader {
	return &fieldReader{ev: in.ev}
}

// categoryOf returns the registered category of tid, or General.
func (in *input) categoryOf(tid int64) threads.Category {
	if e, ok := in.reg.Lookup(tid); ok {
		return e.Category
	}
	return threads.General
}

func threadStart(in *input) (Plan, error) {
	r := in.read()
	tid, pid, name := r.int(in.f.TID), r.int(in.f.PID), r.text(in.f.Name)
	if r.err != nil {
		return Plan{}, r.err
	}

	cat := threads.Classify(name)
	entity := entityPath(pid, threadGroup(cat), itoa(tid))
	ts := in.ev.Timestamp

	var p Plan
	p.set(entity, NameAttr, ts, value.Text(name))
	p.set(entity, StatusAttr, ts, value.Int(StatusRunning))
	p.register(tid, pid, name, cat)
	return p, nil
}

func threadStop(in *input) (Plan, error) {
	r := in.read()
	tid, pid := r.int(in.f.TID), r.int(in.f.PID)
	if r.err != nil {
		return Plan{}, r.err
	}

	var p Plan
	entity := entityPath(pid, threadGroup(in.categoryOf(tid)), itoa(tid))
	p.clearExisting(entity, StatusAttr, in.ev.Timestamp)
	return p, nil
}

func threadStatus(in *input) (Plan, error) {
	r := in.read()
	tid, pid, status := r.int(in.f.VTID), r.int(in.f.VPID), r.int(in.f.Status)
	if r.err != nil {
		return Plan{}, r.err
	}

	var p Plan
	if _, done := in.finalized[tid]; done {
		return p, nil
	}

	var v value.Value = value.Int(status)
	if status == terminalStatus {
		v = value.Absent{}
		p.Finalize = append(p.Finalize, tid)
	}

	entity := entityPath(pid, threadGroup(in.categoryOf(tid)), itoa(tid))
	p.set(entity, StatusAttr, in.ev.Timestamp, v)
	if _, known := in.reg.Lookup(tid); !known {
		p.register(tid, pid, itoa(tid), threads.General)
	}
	return p, nil
}

func vmThreadStart(in *input) (Plan, error) {
	r := in.read()
	tid, pid, name := r.int(in.f.VTID), r.int(in.f.VPID), r.text(in.f.Name)
	if r.err != nil {
		return Plan{}, r.err
	}

	entity := entityPath(pid, threadGroup(threads.VM), itoa(tid))
	ts := in.ev.Timestamp

	var p Plan
	p.set(entity, NameAttr, ts, value.Text(name))
	p.clear(entity, StatusAttr, ts)
	p.register(tid, pid, name, threads.VM)
	return p, nil
}

func vmThreadStop(in *input) (Plan, error) {
	r := in.read()
	pid, tid := r.int(in.f.VPID), r.int(in.f.OSThreadID)
	if r.err != nil {
		return Plan{}, r.err
	}

	entity := entityPath(pid, threadGroup(threads.VM), itoa(tid))
	ts := in.ev.Timestamp

	var p Plan
	p.clearExisting(entity, NameAttr, ts)
	p.clearExisting(entity, StatusAttr, ts)
	return p, nil
}

func gcTaskThreadStart(in *input) (Plan, error) {
	r := in.read()
	pid, tid, name := r.int(in.f.VPID), r.int(in.f.OSThreadID), r.text(in.f.Name)
	if r.err != nil {
		return Plan{}, r.err
	}

	entity := entityPath(pid, threadGroup(threads.GC), itoa(tid))
	ts := in.ev.Timestamp

	var p Plan
	p.set(entity, NameAttr, ts, value.Text(name))
	p.clear(entity, StatusAttr, ts)
	p.register(tid, pid, name, threads.GC)
	return p, nil
}

func poolGC(begin bool) recipe {
	return func(in *input) (Plan, error) {
		r := in.read()
		pid, gcName, pool := r.int(in.f.PID), r.text(in.f.GCName), r.text(in.f.PoolName)
		if r.err != nil {
			return Plan{}, r.err
		}

		entity := []string{itoa(pid), GCNode, gcName}
		var p Plan
		if begin {
			p.set(entity, pool, in.ev.Timestamp, value.Int(StatusGCBusy))
		} else {
			p.clear(entity, pool, in.ev.Timestamp)
		}
		return p, nil
	}
}

func reportGC(start bool) recipe {
	return func(in *input) (Plan, error) {
		r := in.read()
		pid, code := r.int(in.f.PID), r.int(in.f.GCCode)
		if r.err != nil {
			return Plan{}, r.err
		}

		gc, err := gccodes.Decode(code)
		if err != nil {
			return Plan{}, fmt.Errorf("report gc in process %d: %w", pid, err)
		}

		entity := []string{itoa(pid), GCNode, CollectionsNode}
		var p Plan
		if start {
			p.set(entity, gc.Category, in.ev.Timestamp, value.Text(gc.Name))
		} else {
			p.clear(entity, gc.Category, in.ev.Timestamp)
		}
		return p, nil
	}
}

func methodCompile(begin bool) recipe {
	return func(in *input) (Plan, error) {
		r := in.read()
		tid, pid, compiler := r.int(in.f.TID), r.int(in.f.PID), r.text(in.f.CompilerName)
		var class, method string
		if begin {
			class, method = r.text(in.f.ClassName), r.text(in.f.MethodName)
		}
		if r.err != nil {
			return Plan{}, r.err
		}

		thread := itoa(tid)
		if e, ok := in.reg.Lookup(tid); ok && e.Name != "" {
			thread = e.Name
		}
		entity := []string{itoa(pid), JITNode, compiler, thread}
		ts := in.ev.Timestamp

		var p Plan
		if begin {
			p.set(entity, FunctionNameAttr, ts, value.Text(FormatString(class)+":"+FormatString(method)))
			p.set(entity, StatusAttr, ts, value.Int(StatusCompiling))
		} else {
			p.clear(entity, FunctionNameAttr, ts)
			p.clear(entity, StatusAttr, ts)
		}
		return p, nil
	}
}

func monitorBlock(status int64) recipe {
	return func(in *input) (Plan, error) {
		r := in.read()
		tid, pid, monitor := r.int(in.f.TID), r.int(in.f.PID), r.text(in.f.MonitorName)
		if r.err != nil {
			return Plan{}, r.err
		}

		entity := entityPath(pid, threadGroup(threads.General), itoa(tid))
		ts := in.ev.Timestamp

		var p Plan
		p.set(entity, MonitorNameAttr, ts, value.Text(FormatString(monitor)))
		p.set(entity, StatusAttr, ts, value.Int(status))
		return p, nil
	}
}

func monitorRelease(in *input) (Plan, error) {
	r := in.read()
	tid, pid := r.int(in.f.TID), r.int(in.f.PID)
	if r.err != nil {
		return Plan{}, r.err
	}

	entity := entityPath(pid, threadGroup(threads.General), itoa(tid))
	ts := in.ev.Timestamp

	var p Plan
	p.clear(entity, MonitorNameAttr, ts)
	p.set(entity, StatusAttr, ts, value.Int(StatusRunning))
	return p, nil
}

// taskBegin and taskEnd cover VM operations and GC tasks, which differ only
// in the thread group and the busy code.
func taskBegin(cat threads.Category, status int64) recipe {
	return func(in *input) (Plan, error) {
		r := in.read()
		tid, pid, name := r.int(in.f.VTID), r.int(in.f.VPID), r.text(in.f.Name)
		if r.err != nil {
			return Plan{}, r.err
		}

		entity := entityPath(pid, threadGroup(cat), itoa(tid))
		ts := in.ev.Timestamp

		var p Plan
		p.set(entity, InfoAttr, ts, value.Text(name))
		p.set(entity, StatusAttr, ts, value.Int(status))
		return p, nil
	}
}

func taskEnd(cat threads.Category) recipe {
	return func(in *input) (Plan, error) {
		r := in.read()
		tid, pid := r.int(in.f.VTID), r.int(in.f.VPID)
		if r.err != nil {
			return Plan{}, r.err
		}

		entity := entityPath(pid, threadGroup(cat), itoa(tid))
		ts := in.ev.Timestamp

		var p Plan
		p.clear(entity, InfoAttr, ts)
		p.clear(entity, StatusAttr, ts)
		return p, nil
	}
}

// schedSwitch records which thread a CPU switched to. A registered thread
// is shown as its category code starting one time unit after the switch,
// with an Absent gap at the switch itself.
func schedSwitch(in *input) (Plan, error) {
	cpu, err := in.ev.RequireCPU()
	if err != nil {
		return Plan{}, err
	}
	r := in.read()
	tid := r.int(in.f.NextTID)
	if r.err != nil {
		return Plan{}, r.err
	}

	entity := []string{CPUsNode, itoa(int64(cpu))}
	ts := in.ev.Timestamp

	var p Plan
	if tid == 0 {
		p.clear(entity, StatusAttr, ts)
		p.clear(entity, InfoAttr, ts)
		return p, nil
	}

	if e, ok := in.reg.Lookup(tid); ok {
		p.clear(entity, StatusAttr, ts)
		p.set(entity, StatusAttr, ts+1, value.Int(cpuCode(e.Category)))
		p.set(entity, InfoAttr, ts, value.Text(fmt.Sprintf("%s (%d)", e.Name, tid)))
		return p, nil
	}

	comm := r.text(in.f.NextComm)
	if r.err != nil {
		return Plan{}, r.err
	}
	p.set(entity, StatusAttr, ts, value.Int(CPUUnknown))
	p.set(entity, InfoAttr, ts, value.Text(fmt.Sprintf("%s (%d)", comm, tid)))
	return p, nil
}
