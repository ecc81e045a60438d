package sim

import (
	"fmt"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/packet"
)

// nodeRunner is the command runner for one node identity: join/leave and
// the query/application sub-runners it exposes.
type nodeRunner struct {
	sim  *Simulator
	node *hypercube.Node
}

func (r *nodeRunner) Step(name string, args []string) (any, error) {
	switch name {
	case "joinNetwork":
		r.node.JoinNetwork()
		return nil, nil

	case "leaveNetwork":
		r.node.LeaveNetwork()
		return nil, nil

	case "assertPrimaryAddress":
		if len(args) != 1 {
			return nil, &ScenarioError{Msg: "assertPrimaryAddress expects 1 argument: expected bit string"}
		}
		return r.assertPrimaryAddress(args[0]), nil

	case "testApplication":
		return &appRunner{sim: r.sim, node: r.node}, nil

	case "traceRoute":
		return &traceRouteRunner{sim: r.sim, node: r.node}, nil

	default:
		return nil, &ScenarioError{Msg: fmt.Sprintf("node %q has no command %q", r.node.Identity, name)}
	}
}

func (r *nodeRunner) assertPrimaryAddress(expected string) *QueryResult {
	want, err := address.ParseHypercubeAddress(expected)
	if err != nil {
		passed := false
		return &QueryResult{Name: "assertPrimaryAddress", Passed: &passed, Value: err.Error()}
	}
	passed := r.node.Primary.Address.Equal(want)
	return &QueryResult{
		Name:   "assertPrimaryAddress",
		Passed: &passed,
		Value:  r.node.Primary.String(),
	}
}

// assertCompleteAddressSpace reports whether the union of every node's
// primary and secondary mask addresses covers {0,1}^B disjointly, §8's
// universal invariant I1-I3.
func (s *Simulator) assertCompleteAddressSpace() *QueryResult {
	space := address.NewAddressSpace()
	disjoint := true
	for _, node := range s.byIdentity {
		if !space.Add(node.Primary) {
			disjoint = false
		}
		for _, sec := range node.Secondary.GetBase() {
			if !space.Add(sec) {
				disjoint = false
			}
		}
	}

	complete := false
	base := space.GetBase()
	if len(base) == 1 && base[0].Mask == 0 {
		complete = true
	}

	passed := complete && disjoint
	return &QueryResult{Name: "assertCompleteAddressSpace", Passed: &passed}
}

// appRunner is testApplication: the send-by-identity front door spec.md
// §4.L's rendez-vous client sits behind.
type appRunner struct {
	sim  *Simulator
	node *hypercube.Node
}

func (r *appRunner) Step(name string, args []string) (any, error) {
	if name != "send" {
		return nil, &ScenarioError{Msg: fmt.Sprintf("testApplication has no command %q", name)}
	}
	if len(args) < 1 {
		return nil, &ScenarioError{Msg: "testApplication.send expects at least 1 argument: destination identity"}
	}

	if !r.node.Connected() {
		return nil, &ScenarioError{Msg: fmt.Sprintf("testApplication.send: node %q has not joined the network", r.node.Identity)}
	}

	client, ok := r.sim.clients[r.node.Identity]
	if !ok {
		return nil, &ProtocolError{Msg: fmt.Sprintf("node %q has no rendez-vous client", r.node.Identity)}
	}

	var payload []byte
	if len(args) > 1 {
		payload = []byte(args[1])
	}
	client.Send(args[0], 0, 0, payload)
	return nil, nil
}

// traceRouteRunner is traceRoute.assert: sends a trace-route-flagged data
// packet at the destination's known primary address and, once it lands,
// emits the comparison notification asynchronously (delivery crosses
// virtual time, so the result cannot return synchronously up exec()).
type traceRouteRunner struct {
	sim  *Simulator
	node *hypercube.Node
}

func (r *traceRouteRunner) Step(name string, args []string) (any, error) {
	if name != "assert" {
		return nil, &ScenarioError{Msg: fmt.Sprintf("traceRoute has no command %q", name)}
	}
	if len(args) != 2 {
		return nil, &ScenarioError{Msg: "traceRoute.assert expects 2 arguments: expected primary, destination identity"}
	}

	expectedPrimary := args[0]
	destID := args[1]
	dest, ok := r.sim.byIdentity[destID]
	if !ok {
		return nil, &ScenarioError{Msg: fmt.Sprintf("traceRoute.assert: unknown node %q", destID)}
	}

	if !r.node.Connected() {
		return nil, &ScenarioError{Msg: fmt.Sprintf("traceRoute.assert: node %q has not joined the network", r.node.Identity)}
	}

	dst, err := address.ParseHypercubeAddress(expectedPrimary)
	if err != nil {
		return nil, &ScenarioError{Msg: err.Error()}
	}

	prev := dest.OnDataReceived
	dest.OnDataReceived = func(pkt packet.DataPacket) {
		if pkt.TraceRoute {
			r.report(pkt, expectedPrimary, destID)
			dest.OnDataReceived = prev
		} else if prev != nil {
			prev(pkt)
		}
	}

	r.node.SendTraceRoute(dst)
	return nil, nil
}

func (r *traceRouteRunner) report(pkt packet.DataPacket, expectedPrimary, destID string) {
	var last address.MACAddress
	if len(pkt.Route) > 0 {
		last = pkt.Route[len(pkt.Route)-1]
	}
	passed := last == r.destPhys(destID)
	route := make([]QueryResult, 0, len(pkt.Route))
	for i, hop := range pkt.Route {
		route = append(route, QueryResult{Name: fmt.Sprintf("hop%d", i), Value: hop.String()})
	}
	_ = r.sim.notificator.Emit(r.sim.Now(), "traceRoute.assert", expectedPrimary, &QueryResult{
		Name:     "traceRoute.assert",
		Passed:   &passed,
		Children: route,
	})
}

func (r *traceRouteRunner) destPhys(destID string) address.MACAddress {
	if n, ok := r.sim.byIdentity[destID]; ok {
		return n.Phys
	}
	return address.MACAddress{}
}
