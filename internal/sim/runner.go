// Package sim implements the scenario runner: the simulator facade that
// owns the network arena, wires every node's rendez-vous server and
// client, drives the virtual clock, and walks scenario command paths
// through exec() into a stream of XML notifications.
package sim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/metrics"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/rendezvous"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

// Runner is a "command runner" in spec.md §4.M's exec() model: one step of
// a dot-separated command path, dispatched by function name and raw
// (already-split) argument strings.
type Runner interface {
	Step(name string, args []string) (any, error)
}

// Simulator is the process-wide facade: virtual clock (via its
// scheduler), network arena, notification sink, and the rendez-vous
// server/client pair wired onto every node it creates.
type Simulator struct {
	sched       *scheduler.Scheduler
	net         *hypercube.Network
	logger      *slog.Logger
	coll        *metrics.Collector
	notificator *Notificator
	params      hypercube.Params

	rvCacheTimeout     units.Time
	lookupAckTimeout   units.Time

	byIdentity map[string]*hypercube.Node
	clients    map[string]*rendezvous.Client

	endTime units.Time
	aborted error
}

// DefaultParams is the scenario runner's default node configuration: the
// 8-bit address plane spec.md §8 scenario 1 measures against, and the
// join/heartbeat timeouts used throughout §8's literal scenarios.
func DefaultParams() hypercube.Params {
	return hypercube.Params{
		AddressBitLen:          8,
		WaitPAPTimeout:         100 * units.Millisecond,
		WaitPAPRetries:         5,
		WaitPANCTimeout:        100 * units.Millisecond,
		HeardBitPeriod:         400 * units.Millisecond,
		WaitWaitMeTimeout:      10 * units.Millisecond,
		ListenHBTimeout:        500 * units.Millisecond,
		WaitSANTimeout:         100 * units.Millisecond,
		WaitPANTimeout:         500 * units.Millisecond,
		NeighboursBeforeParent: 1,
		RoutingEntryTimeout:    5 * units.Minute,
		BitmapClearPeriod:      1 * units.Minute,
	}
}

// NewSimulator builds a Simulator with params as every newNode's
// configuration, emitting notifications through notificator.
func NewSimulator(params hypercube.Params, coll *metrics.Collector, notificator *Notificator, logger *slog.Logger) *Simulator {
	sched := scheduler.New()
	return &Simulator{
		sched:            sched,
		net:              hypercube.NewNetwork(sched, logger),
		logger:           logger,
		coll:             coll,
		notificator:      notificator,
		params:           params,
		rvCacheTimeout:   5 * units.Second,
		lookupAckTimeout: 100 * units.Millisecond,
		byIdentity:       make(map[string]*hypercube.Node),
		clients:          make(map[string]*rendezvous.Client),
	}
}

// Now returns the simulator's current virtual time.
func (s *Simulator) Now() units.Time { return s.sched.Now() }

// RunScenario parses r as a scenario file, schedules or immediately runs
// every line, then drives the clock through the last explicitly scheduled
// time, finally closing the notification stream.
func (s *Simulator) RunScenario(r io.Reader) error {
	lines, err := ParseScenario(r)
	if err != nil {
		return err
	}

	for _, line := range lines {
		line := line
		if line.HasTime {
			if line.Time > s.endTime {
				s.endTime = line.Time
			}
			e := &scheduler.Event{FireAt: line.Time}
			e.Effect = func() {
				if e.Cancelled() {
					return
				}
				s.runLine(line)
			}
			s.sched.AddEvent(e, false)
			continue
		}
		s.runLine(line)
	}

	if s.endTime > 0 {
		s.sched.Simulate(s.endTime)
	}

	if err := s.notificator.Close(); err != nil {
		return err
	}
	return s.aborted
}

// runLine executes one parsed command path against the simulator and
// reports the outcome as a notification.
func (s *Simulator) runLine(line Line) {
	if s.aborted != nil {
		return
	}

	result, err := s.exec(s, line.Path)
	if err != nil {
		s.reportError(line.Number, err)
		return
	}
	if result != nil {
		_ = s.notificator.Emit(s.Now(), "simulator.exec.query", "", result)
	}
}

func (s *Simulator) reportError(line int, err error) {
	var scenarioErr *ScenarioError
	var protoErr *ProtocolError
	switch {
	case errors.As(err, &scenarioErr):
		_ = s.notificator.Emit(s.Now(), "error", scenarioErr.Error(), nil)
	case errors.As(err, &protoErr):
		_ = s.notificator.Emit(s.Now(), "error", protoErr.Error(), nil)
		s.aborted = err
	default:
		_ = s.notificator.Emit(s.Now(), "error", err.Error(), nil)
	}
}

// exec walks path against cur, the algorithm spec.md §4.M describes: each
// step runs on the current runner and yields another runner, a collection
// of runners (fan-out, results aggregated under the step's name), or a
// terminal *QueryResult. A *QueryResult reached with steps still remaining
// is the mid-chain-terminal case recorded in the Open Questions.
func (s *Simulator) exec(cur Runner, path []FuncCall) (*QueryResult, error) {
	if len(path) == 0 {
		return nil, nil
	}
	call := path[0]
	rest := path[1:]

	res, err := cur.Step(call.Name, call.Args)
	if err != nil {
		return nil, err
	}

	switch v := res.(type) {
	case Runner:
		return s.exec(v, rest)
	case []Runner:
		if len(rest) == 0 {
			return nil, nil
		}
		children := make([]QueryResult, 0, len(v))
		for _, r := range v {
			qr, err := s.exec(r, rest)
			if err != nil {
				return nil, err
			}
			if qr != nil {
				children = append(children, *qr)
			}
		}
		return &QueryResult{Name: call.Name, Children: children}, nil
	case *QueryResult:
		if len(rest) != 0 {
			return nil, errExecChainTerminated
		}
		return v, nil
	case nil:
		if len(rest) != 0 {
			return nil, &ScenarioError{Msg: fmt.Sprintf("%q produced no runner to continue the command path", call.Name)}
		}
		return nil, nil
	default:
		return nil, &ScenarioError{Msg: fmt.Sprintf("%q produced an unsupported result type", call.Name)}
	}
}

// Step implements Runner for the top-level simulator: newNode,
// newConnection, allNodes, assertCompleteAddressSpace, and identity
// lookup for every other bare name.
func (s *Simulator) Step(name string, args []string) (any, error) {
	switch name {
	case "newNode":
		if len(args) != 1 {
			return nil, &ScenarioError{Msg: "newNode expects 1 argument: identity"}
		}
		return nil, s.newNode(args[0])

	case "newConnection":
		if len(args) != 4 {
			return nil, &ScenarioError{Msg: "newConnection expects 4 arguments: a, b, bandwidth, delay"}
		}
		return nil, s.newConnection(args[0], args[1], args[2], args[3])

	case "allNodes":
		return s.allNodeRunners(), nil

	case "assertCompleteAddressSpace":
		return s.assertCompleteAddressSpace(), nil

	default:
		node, ok := s.byIdentity[name]
		if !ok {
			return nil, &ScenarioError{Msg: fmt.Sprintf("unknown command or node identity %q", name)}
		}
		return &nodeRunner{sim: s, node: node}, nil
	}
}

func (s *Simulator) newNode(identity string) error {
	if _, exists := s.byIdentity[identity]; exists {
		return &ScenarioError{Msg: fmt.Sprintf("newNode: identity %q already exists", identity)}
	}

	node := s.net.NewNode(identity, s.params)
	rendezvous.NewServer(node, s.sched, identity, s.params.AddressBitLen, s.lookupAckTimeout, s.logger)
	client := rendezvous.NewClient(node, s.sched, s.params.AddressBitLen, s.rvCacheTimeout, s.coll, s.logger)
	client.OnSolved = func(sv rendezvous.Solved) {
		_ = s.notificator.Emit(s.Now(), "node.rvclient.solved", "", &QueryResult{
			Name:  sv.Identity,
			Value: sv.ElapsedTime.String(),
		})
	}
	node.OnPacketDiscarded = func(pkt packet.DataPacket) {
		drop := &TransientDrop{Dst: pkt.Dst.String()}
		_ = s.notificator.Emit(s.Now(), "packet.discarded", drop.Error(), nil)
	}

	s.byIdentity[identity] = node
	s.clients[identity] = client
	return nil
}

func (s *Simulator) newConnection(aID, bID, bandwidthLit, delayLit string) error {
	a, ok := s.byIdentity[aID]
	if !ok {
		return &ScenarioError{Msg: fmt.Sprintf("newConnection: unknown node %q", aID)}
	}
	b, ok := s.byIdentity[bID]
	if !ok {
		return &ScenarioError{Msg: fmt.Sprintf("newConnection: unknown node %q", bID)}
	}
	bw, err := units.ParseBandwidth(bandwidthLit, units.Bps)
	if err != nil {
		return &ScenarioError{Msg: err.Error()}
	}
	delay, err := units.ParseTime(delayLit, units.Millisecond)
	if err != nil {
		return &ScenarioError{Msg: err.Error()}
	}
	s.net.Connect(a.ID, b.ID, bw, delay)
	return nil
}

func (s *Simulator) allNodeRunners() []Runner {
	identities := make([]string, 0, len(s.byIdentity))
	for id := range s.byIdentity {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	runners := make([]Runner, 0, len(identities))
	for _, id := range identities {
		runners = append(runners, &nodeRunner{sim: s, node: s.byIdentity[id]})
	}
	return runners
}
