// Package plan holds the concrete actions of a reconfiguration, the timed
// plan that schedules them and the dependencies that order their execution.
package plan

import (
	"fmt"

	"github.com/limiquantix/replanner/internal/domain"
)

// Kind identifies the type of an action.
type Kind string

const (
	KindMigration   Kind = "migration"
	KindRun         Kind = "run"
	KindStop        Kind = "stop"
	KindSuspend     Kind = "suspend"
	KindResume      Kind = "resume"
	KindInstantiate Kind = "instantiate"
	KindStartup     Kind = "startup"
	KindShutdown    Kind = "shutdown"
	KindDeploy      Kind = "deploy"
	KindRetype      Kind = "retype"
	KindRename      Kind = "rename"

	// KindRemoteResume is only a duration key: resuming a VM on another
	// node than the one holding its image.
	KindRemoteResume Kind = "remote_resume"
)

// AllKinds lists every action kind.
var AllKinds = []Kind{
	KindMigration, KindRun, KindStop, KindSuspend, KindResume, KindInstantiate,
	KindStartup, KindShutdown, KindDeploy, KindRetype, KindRename,
}

// Action is a resolved reconfiguration step with its schedule.
// The set of actions is closed: see the types of this file.
type Action interface {
	Kind() Kind
	Start() int
	End() int
	String() string
	isAction()
}

// Interval is the schedule of an action: it starts at Begin and is
// completed at Finish.
type Interval struct {
	Begin  int `json:"start"`
	Finish int `json:"end"`
}

// Start returns the moment the action starts.
func (i Interval) Start() int { return i.Begin }

// End returns the moment the action is completed.
func (i Interval) End() int { return i.Finish }

// Duration returns Finish - Begin.
func (i Interval) Duration() int { return i.Finish - i.Begin }

// Migration live-migrates a running VM.
type Migration struct {
	Interval
	VM  *domain.VirtualMachine
	Src *domain.Node
	Dst *domain.Node
}

// Run starts a waiting VM on a node.
type Run struct {
	Interval
	VM   *domain.VirtualMachine
	Host *domain.Node
}

// Stop stops a running VM. A terminated VM is forgotten instead of being
// put back in the waiting state.
type Stop struct {
	Interval
	VM        *domain.VirtualMachine
	Host      *domain.Node
	Terminate bool
	// Clone is the VM replacing VM, if any. The stop then waits for it to
	// be running.
	Clone *domain.VirtualMachine
}

// Suspend saves the memory of a running VM. The VM then sleeps on Dst.
type Suspend struct {
	Interval
	VM  *domain.VirtualMachine
	Src *domain.Node
	Dst *domain.Node
}

// Resume restores a sleeping VM, possibly on another node.
type Resume struct {
	Interval
	VM  *domain.VirtualMachine
	Src *domain.Node
	Dst *domain.Node
}

// Remote returns true if the VM image has to be moved to another node.
func (a *Resume) Remote() bool {
	return a.Src.Name != a.Dst.Name
}

// Instantiate creates a VM from its template. The VM is then waiting.
type Instantiate struct {
	Interval
	VM *domain.VirtualMachine
}

// Startup boots an offline node.
type Startup struct {
	Interval
	Node *domain.Node
}

// Shutdown halts an online node.
type Shutdown struct {
	Interval
	Node *domain.Node
}

// Deploy boots an offline node on a given platform.
type Deploy struct {
	Interval
	Node     *domain.Node
	Platform string
}

// Retype resizes a running VM in place to its demand.
type Retype struct {
	Interval
	VM   *domain.VirtualMachine
	Host *domain.Node
}

// Rename gives the name of a VM to its clone once the original is stopped.
type Rename struct {
	Interval
	VM      *domain.VirtualMachine
	NewName string
}

func (*Migration) isAction()   {}
func (*Run) isAction()         {}
func (*Stop) isAction()        {}
func (*Suspend) isAction()     {}
func (*Resume) isAction()      {}
func (*Instantiate) isAction() {}
func (*Startup) isAction()     {}
func (*Shutdown) isAction()    {}
func (*Deploy) isAction()      {}
func (*Retype) isAction()      {}
func (*Rename) isAction()      {}

func (*Migration) Kind() Kind   { return KindMigration }
func (*Run) Kind() Kind         { return KindRun }
func (*Stop) Kind() Kind        { return KindStop }
func (*Suspend) Kind() Kind     { return KindSuspend }
func (*Resume) Kind() Kind      { return KindResume }
func (*Instantiate) Kind() Kind { return KindInstantiate }
func (*Startup) Kind() Kind     { return KindStartup }
func (*Shutdown) Kind() Kind    { return KindShutdown }
func (*Deploy) Kind() Kind      { return KindDeploy }
func (*Retype) Kind() Kind      { return KindRetype }
func (*Rename) Kind() Kind      { return KindRename }

func (a *Migration) String() string {
	return fmt.Sprintf("migrate(%s,%s,%s)", a.VM.Name, a.Src.Name, a.Dst.Name)
}

func (a *Run) String() string {
	return fmt.Sprintf("run(%s,%s)", a.VM.Name, a.Host.Name)
}

func (a *Stop) String() string {
	if a.Terminate {
		return fmt.Sprintf("terminate(%s,%s)", a.VM.Name, a.Host.Name)
	}
	return fmt.Sprintf("stop(%s,%s)", a.VM.Name, a.Host.Name)
}

func (a *Suspend) String() string {
	return fmt.Sprintf("suspend(%s,%s,%s)", a.VM.Name, a.Src.Name, a.Dst.Name)
}

func (a *Resume) String() string {
	return fmt.Sprintf("resume(%s,%s,%s)", a.VM.Name, a.Src.Name, a.Dst.Name)
}

func (a *Instantiate) String() string {
	return fmt.Sprintf("instantiate(%s)", a.VM.Name)
}

func (a *Startup) String() string {
	return fmt.Sprintf("startup(%s)", a.Node.Name)
}

func (a *Shutdown) String() string {
	return fmt.Sprintf("shutdown(%s)", a.Node.Name)
}

func (a *Deploy) String() string {
	return fmt.Sprintf("deploy(%s,%s)", a.Node.Name, a.Platform)
}

func (a *Retype) String() string {
	return fmt.Sprintf("retype(%s,%s,%d/%d)", a.VM.Name, a.Host.Name, a.VM.CPUDemand, a.VM.MemoryDemand)
}

func (a *Rename) String() string {
	return fmt.Sprintf("rename(%s,%s)", a.VM.Name, a.NewName)
}

// Format returns "start:end action".
func Format(a Action) string {
	return fmt.Sprintf("%d:%d %s", a.Start(), a.End(), a.String())
}

// Elements returns the managed elements an action operates on.
func Elements(a Action) []domain.ManagedElement {
	switch a := a.(type) {
	case *Migration:
		return []domain.ManagedElement{a.VM, a.Src, a.Dst}
	case *Run:
		return []domain.ManagedElement{a.VM, a.Host}
	case *Stop:
		return []domain.ManagedElement{a.VM, a.Host}
	case *Suspend:
		return []domain.ManagedElement{a.VM, a.Src, a.Dst}
	case *Resume:
		return []domain.ManagedElement{a.VM, a.Src, a.Dst}
	case *Instantiate:
		return []domain.ManagedElement{a.VM}
	case *Startup:
		return []domain.ManagedElement{a.Node}
	case *Shutdown:
		return []domain.ManagedElement{a.Node}
	case *Deploy:
		return []domain.ManagedElement{a.Node}
	case *Retype:
		return []domain.ManagedElement{a.VM, a.Host}
	case *Rename:
		return []domain.ManagedElement{a.VM}
	default:
		panic(fmt.Sprintf("plan: unknown action %T", a))
	}
}
