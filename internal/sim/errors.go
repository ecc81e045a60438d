package sim

import "fmt"

// ScenarioError marks a malformed command, an unknown function, or a bad
// argument in a scenario line. When a command fails with it, the runner
// reports it as an Error notification and goes on with the next line, in
// the load phase and the simulate phase alike; a ScenarioError never stops
// a run. A line that fails to parse is different: ParseScenario returns
// its ScenarioError and RunScenario returns it before any line runs.
type ScenarioError struct {
	Line int
	Msg  string
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario error at line %d: %s", e.Line, e.Msg)
}

// ProtocolError marks a malformed packet, a failed assertion about
// reachable state, or an address to an unknown transport. It indicates a
// bug in the implementation rather than a runtime condition, so it fails
// the simulation hard instead of being recovered from.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

// TransientDrop marks a data packet discarded because its TTL hit zero.
// It is surfaced only as a packet.discarded notification and never
// propagated as a command failure.
type TransientDrop struct {
	Dst string
}

func (e *TransientDrop) Error() string {
	return "transient drop: ttl exhausted en route to " + e.Dst
}

// errExecChainTerminated is returned when exec() walks a command path past
// a step that already produced a terminal QueryResult. The source this
// spec was distilled from falls off the end of Command::run without a
// return in that case and relies on the resulting exception to terminate
// the chain; a command path that keeps going after a query result is
// exactly that case, so it is modeled here as an explicit sentinel error
// rather than reproduced as undefined control flow.
var errExecChainTerminated = &ScenarioError{Msg: "command path continued past a terminal query result"}
