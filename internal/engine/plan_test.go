package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/layout"
	"github.com/roach88/vmstate/internal/testutil"
	"github.com/roach88/vmstate/internal/threads"
	"github.com/roach88/vmstate/internal/value"
)

func TestFormatString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Foo$Bar::baz()", "FooBarbaz"},
		{"java/util/HashMap", "java/util/HashMap"},
		{"  spaced out  ", "spacedout"},
		{"Lock@7f3a", "Lock7f3a"},
		{"ünïcödé", "ncd"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatString(tt.in))
		})
	}
}

func TestRecipeForEveryKind(t *testing.T) {
	for _, k := range layout.Kinds() {
		_, ok := recipes[k]
		assert.True(t, ok, "no recipe for %s", k)
	}
	assert.Len(t, recipes, len(layout.Kinds()))
}

func newInput(ev event.Event, reg *threads.Registry, finalized map[int64]struct{}) *input {
	if reg == nil {
		reg = threads.NewRegistry()
	}
	if finalized == nil {
		finalized = map[int64]struct{}{}
	}
	return &input{ev: ev, f: &layout.Default().Fields, reg: reg, finalized: finalized}
}

func TestThreadStartPlan(t *testing.T) {
	in := newInput(testutil.ThreadStart(1000, 10, 100, "worker"), nil, nil)

	p, err := threadStart(in)
	require.NoError(t, err)

	require.Len(t, p.Mutations, 2)
	assert.Equal(t, []string{"100", "Threads", "10", "name"}, p.Mutations[0].Path())
	assert.Equal(t, value.Text("worker"), p.Mutations[0].Value)
	assert.Equal(t, value.Int(StatusRunning), p.Mutations[1].Value)
	assert.Equal(t, []threads.Entry{{TID: 10, PID: 100, Name: "worker", Category: threads.General}}, p.Register)
	assert.Equal(t, 0, in.reg.Len(), "recipes never touch the registry")
}

func TestThreadStopPlanRequiresExisting(t *testing.T) {
	in := newInput(testutil.ThreadStop(5, 10, 100), nil, nil)

	p, err := threadStop(in)
	require.NoError(t, err)
	require.Len(t, p.Mutations, 1)
	assert.True(t, p.Mutations[0].MustExist)
	assert.True(t, value.IsAbsent(p.Mutations[0].Value))
}

func TestThreadStatusPlanFinalized(t *testing.T) {
	in := newInput(testutil.ThreadStatus(5, 10, 100, 3), nil, map[int64]struct{}{10: {}})

	p, err := threadStatus(in)
	require.NoError(t, err)
	assert.Empty(t, p.Mutations)
	assert.Empty(t, p.Register)
}

func TestSchedSwitchPlanRegistered(t *testing.T) {
	reg := threads.NewRegistry()
	reg.Upsert(10, 100, "worker", threads.General)
	in := newInput(testutil.SchedSwitch(2000, 4, 10, "java"), reg, nil)

	p, err := schedSwitch(in)
	require.NoError(t, err)
	require.Len(t, p.Mutations, 3)

	assert.Equal(t, Mutation{Entity: []string{"CPUs", "4"}, Field: "status", At: 2000, Value: value.Absent{}}, p.Mutations[0])
	assert.Equal(t, Mutation{Entity: []string{"CPUs", "4"}, Field: "status", At: 2001, Value: value.Int(CPUGeneral)}, p.Mutations[1])
	assert.Equal(t, Mutation{Entity: []string{"CPUs", "4"}, Field: "info", At: 2000, Value: value.Text("worker (10)")}, p.Mutations[2])
}

func TestSchedSwitchIdleDoesNotNeedComm(t *testing.T) {
	ev := testutil.Event("sched_switch", 10, map[string]any{"next_tid": 0})
	ev.CPU = 0
	in := newInput(ev, nil, nil)

	p, err := schedSwitch(in)
	require.NoError(t, err)
	assert.Len(t, p.Mutations, 2)
}

func TestReportGCPlanUnknownCode(t *testing.T) {
	in := newInput(testutil.ReportGC("report_gc_start", 1, 100, 99), nil, nil)
	_, err := reportGC(true)(in)
	require.Error(t, err)
	assert.True(t, IsUnknownGCCodeError(err))
}

func TestMethodCompileEndNeedsNoNames(t *testing.T) {
	ev := testutil.Event("method_compile_end", 10, map[string]any{"tid": 20, "pid": 100, "compilerName": "C2"})
	in := newInput(ev, nil, nil)

	p, err := methodCompile(false)(in)
	require.NoError(t, err)
	require.Len(t, p.Mutations, 2)
	assert.Equal(t, []string{"100", "JIT Compilation", "C2", "20", "functionName"}, p.Mutations[0].Path())
}

func TestThreadGroup(t *testing.T) {
	assert.Equal(t, []string{"Threads"}, threadGroup(threads.General))
	assert.Equal(t, []string{"VMThreads"}, threadGroup(threads.VM))
	assert.Equal(t, []string{"Garbage Collection", "GC Threads"}, threadGroup(threads.GC))
	assert.Equal(t, []string{"JIT Compilation", "Compiler Threads"}, threadGroup(threads.Compiler))
}
