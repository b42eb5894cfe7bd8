// Package layout describes how trace events are spelled on the wire: the
// event kind names the dispatcher recognizes and the field names each kind
// reads.
//
// The built-in layout matches the runtime's tracepoint provider, whose kinds
// carry a "jvm:" prefix and whose thread context arrives in
// "context._vtid"/"context._vpid". A CUE file can override any of it; see
// Load.
package layout

import (
	"slices"
	"strings"
)

// Kind is a canonical event kind.
type Kind string

// Canonical event kinds.
const (
	ThreadStart           Kind = "thread_start"
	ThreadStop            Kind = "thread_stop"
	ThreadStatus          Kind = "thread_status"
	VMThreadStart         Kind = "vmthread_start"
	VMThreadStop          Kind = "vmthread_stop"
	GCTaskThreadStart     Kind = "gctaskthread_start"
	PoolGCBegin           Kind = "pool_gc_begin"
	PoolGCEnd             Kind = "pool_gc_end"
	ReportGCStart         Kind = "report_gc_start"
	ReportGCEnd           Kind = "report_gc_end"
	MethodCompileBegin    Kind = "method_compile_begin"
	MethodCompileEnd      Kind = "method_compile_end"
	MonitorContendedEnter Kind = "monitor_contended_enter"
	MonitorContendedDone  Kind = "monitor_contended_entered"
	MonitorWait           Kind = "monitor_wait"
	MonitorWaited         Kind = "monitor_waited"
	VMOpsBegin            Kind = "vmops_begin"
	VMOpsEnd              Kind = "vmops_end"
	GCTaskStart           Kind = "gctask_start"
	GCTaskEnd             Kind = "gctask_end"
	SchedSwitch           Kind = "sched_switch"
)

var kinds = []Kind{
	ThreadStart, ThreadStop, ThreadStatus,
	VMThreadStart, VMThreadStop, GCTaskThreadStart,
	PoolGCBegin, PoolGCEnd, ReportGCStart, ReportGCEnd,
	MethodCompileBegin, MethodCompileEnd,
	MonitorContendedEnter, MonitorContendedDone, MonitorWait, MonitorWaited,
	VMOpsBegin, VMOpsEnd, GCTaskStart, GCTaskEnd,
	SchedSwitch,
}

// Kinds returns every canonical kind.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

// IsKind reports whether k is a canonical kind.
func IsKind(k string) bool {
	return slices.Contains(kinds, Kind(k))
}

// Fields holds the wire name of every field the dispatcher reads.
type Fields struct {
	TID          string
	PID          string
	Name         string
	VTID         string
	VPID         string
	OSThreadID   string
	Status       string
	GCName       string
	PoolName     string
	GCCode       string
	CompilerName string
	ClassName    string
	MethodName   string
	MonitorName  string
	NextTID      string
	NextComm     string
}

// slots maps CUE field keys to struct fields.
func (f *Fields) slots() map[string]*string {
	return map[string]*string{
		"tid":          &f.TID,
		"pid":          &f.PID,
		"name":         &f.Name,
		"vtid":         &f.VTID,
		"vpid":         &f.VPID,
		"os_threadid":  &f.OSThreadID,
		"status":       &f.Status,
		"gc_name":      &f.GCName,
		"pool_name":    &f.PoolName,
		"gc_code":      &f.GCCode,
		"compiler":     &f.CompilerName,
		"class_name":   &f.ClassName,
		"method_name":  &f.MethodName,
		"monitor_name": &f.MonitorName,
		"next_tid":     &f.NextTID,
		"next_comm":    &f.NextComm,
	}
}

// Layout is an immutable description of the event wire format.
type Layout struct {
	// Provider is stripped from the front of a kind before matching.
	Provider string
	Fields   Fields
	// Aliases maps alternative kind spellings to canonical kinds.
	Aliases map[string]Kind
}

// DefaultProvider is the tracepoint provider prefix of the built-in layout.
const DefaultProvider = "jvm:"

// Default returns the built-in layout.
func Default() *Layout {
	return &Layout{
		Provider: DefaultProvider,
		Fields: Fields{
			TID:          "tid",
			PID:          "pid",
			Name:         "name",
			VTID:         "context._vtid",
			VPID:         "context._vpid",
			OSThreadID:   "os_threadid",
			Status:       "status",
			GCName:       "gc_name",
			PoolName:     "pool_name",
			GCCode:       "name",
			CompilerName: "compilerName",
			ClassName:    "className",
			MethodName:   "methodName",
			MonitorName:  "monitorName",
			NextTID:      "next_tid",
			NextComm:     "next_comm",
		},
		Aliases: map[string]Kind{
			"mem__pool__gc__begin":        PoolGCBegin,
			"mem__pool__gc__end":          PoolGCEnd,
			"method__compile__begin":      MethodCompileBegin,
			"method__compile__end":        MethodCompileEnd,
			"monitor__contended__enter":   MonitorContendedEnter,
			"monitor__contended__entered": MonitorContendedDone,
			"monitor__wait":               MonitorWait,
			"monitor__waited":             MonitorWaited,
		},
	}
}

// Resolve maps a wire kind to its canonical kind. The provider prefix is
// optional. Unknown kinds return false.
func (l *Layout) Resolve(wire string) (Kind, bool) {
	name := wire
	if l.Provider != "" {
		name = strings.TrimPrefix(name, l.Provider)
	}
	if IsKind(name) {
		return Kind(name), true
	}
	if k, ok := l.Aliases[name]; ok {
		return k, true
	}
	return "", false
}

// RequiredFields returns the wire field names kind k reads, in the order
// the dispatcher reads them.
func (l *Layout) RequiredFields(k Kind) []string {
	f := l.Fields
	switch k {
	case ThreadStart:
		return []string{f.TID, f.PID, f.Name}
	case ThreadStop:
		return []string{f.TID, f.PID}
	case ThreadStatus:
		return []string{f.VTID, f.VPID, f.Status}
	case VMThreadStart, VMOpsBegin, GCTaskStart:
		return []string{f.VTID, f.VPID, f.Name}
	case VMOpsEnd, GCTaskEnd:
		return []string{f.VTID, f.VPID}
	case VMThreadStop:
		return []string{f.VPID, f.OSThreadID}
	case GCTaskThreadStart:
		return []string{f.VPID, f.OSThreadID, f.Name}
	case PoolGCBegin, PoolGCEnd:
		return []string{f.PID, f.GCName, f.PoolName}
	case ReportGCStart, ReportGCEnd:
		return []string{f.PID, f.GCCode}
	case MethodCompileBegin:
		return []string{f.TID, f.PID, f.CompilerName, f.ClassName, f.MethodName}
	case MethodCompileEnd:
		return []string{f.TID, f.PID, f.CompilerName}
	case MonitorContendedEnter, MonitorWait:
		return []string{f.TID, f.PID, f.MonitorName}
	case MonitorContendedDone, MonitorWaited:
		return []string{f.TID, f.PID}
	case SchedSwitch:
		return []string{f.NextTID, f.NextComm}
	default:
		return nil
	}
}
