package engine

import (
	"strconv"
	"strings"

	"github.com/roach88/vmstate/internal/threads"
	"github.com/roach88/vmstate/internal/value"
)

// Attribute path vocabulary. Top-level nodes are process ids or CPUsNode.
const (
	CPUsNode            = "CPUs"
	ThreadsNode         = "Threads"
	VMThreadsNode       = "VMThreads"
	GCNode              = "Garbage Collection"
	GCThreadsNode       = "GC Threads"
	CollectionsNode     = "Collections"
	JITNode             = "JIT Compilation"
	CompilerThreadsNode = "Compiler Threads"

	StatusAttr       = "status"
	NameAttr         = "name"
	InfoAttr         = "info"
	FunctionNameAttr = "functionName"
	MonitorNameAttr  = "Monitor Name"
)

// Thread status codes written under StatusAttr.
const (
	StatusVMOp            = 1
	StatusGCBusy          = 2
	StatusCompiling       = 3
	StatusMonitorWait     = 4
	StatusRunning         = 5
	StatusMonitorContends = 6
)

// terminalStatus is the thread_status value that marks a thread as gone.
const terminalStatus = 2

// CPU status codes written under CPUsNode/<cpu>/status.
const (
	CPUGeneral  = 1001
	CPUVM       = 1002
	CPUGC       = 1003
	CPUCompiler = 1004
	CPUUnknown  = 1005
)

// cpuCode returns the CPU status code for a thread category.
func cpuCode(cat threads.Category) int64 {
	switch cat {
	case threads.VM:
		return CPUVM
	case threads.GC:
		return CPUGC
	case threads.Compiler:
		return CPUCompiler
	default:
		return CPUGeneral
	}
}

// threadGroup returns the path below the process node that holds threads
// of category cat.
func threadGroup(cat threads.Category) []string {
	switch cat {
	case threads.VM:
		return []string{VMThreadsNode}
	case threads.GC:
		return []string{GCNode, GCThreadsNode}
	case threads.Compiler:
		return []string{JITNode, CompilerThreadsNode}
	default:
		return []string{ThreadsNode}
	}
}

// Mutation is one planned write: set Entity/Field to Value at time At.
type Mutation struct {
	Entity []string
	Field  string
	At     int64
	Value  value.Value

	// MustExist skips the write, instead of creating the attribute, when
	// Entity/Field has never been resolved.
	MustExist bool
}

// Path returns the full attribute path of the mutation.
func (m Mutation) Path() []string {
	p := make([]string, 0, len(m.Entity)+1)
	p = append(p, m.Entity...)
	return append(p, m.Field)
}

// Plan is everything one event changes. Recipes build plans without
// touching session state; the session applies them.
type Plan struct {
	Mutations []Mutation
	Register  []threads.Entry
	Finalize  []int64
}

func (p *Plan) set(entity []string, field string, at int64, v value.Value) {
	p.Mutations = append(p.Mutations, Mutation{Entity: entity, Field: field, At: at, Value: v})
}

func (p *Plan) clear(entity []string, field string, at int64) {
	p.set(entity, field, at, value.Absent{})
}

func (p *Plan) clearExisting(entity []string, field string, at int64) {
	p.Mutations = append(p.Mutations, Mutation{Entity: entity, Field: field, At: at, Value: value.Absent{}, MustExist: true})
}

func (p *Plan) register(tid, pid int64, name string, cat threads.Category) {
	p.Register = append(p.Register, threads.Entry{TID: tid, PID: pid, Name: name, Category: cat})
}

// entityPath builds [pid, group..., id].
func entityPath(pid int64, group []string, id string) []string {
	p := make([]string, 0, len(group)+2)
	p = append(p, itoa(pid))
	p = append(p, group...)
	return append(p, id)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// FormatString keeps only ASCII letters, digits and '/' and trims the
// result. Class, method and monitor names pass through it before they are
// stored.
func FormatString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '/' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
