package main

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/hcsim/internal/metrics"
	"github.com/dantte-lp/hcsim/internal/sim"
)

// selfTest is one of spec.md §8's literal end-to-end scenarios: a scenario
// file body plus a check run against its rendered XML notification
// stream.
type selfTest struct {
	name     string
	scenario string
	check    func(xmlOutput string) bool
}

var selfTests = []selfTest{
	{
		name: "single node joins and claims the zero address",
		scenario: `
newNode(A)
A.joinNetwork()
[600ms] A.assertPrimaryAddress('00000000')
`,
		check: passedOK("assertPrimaryAddress"),
	},
	{
		name: "two nodes form a parent-child pair",
		scenario: `
newNode(A)
newNode(B)
newConnection(A,B,10Mbps,1ms)
A.joinNetwork()
[600ms] B.joinNetwork()
[1200ms] assertCompleteAddressSpace()
`,
		check: passedOK("assertCompleteAddressSpace"),
	},
	{
		name: "four-node square converges via heartbeat-driven secondary addresses",
		scenario: `
newNode(A)
newNode(B)
newNode(C)
newNode(D)
newConnection(A,B,10Mbps,1ms)
newConnection(B,C,10Mbps,1ms)
newConnection(C,D,10Mbps,1ms)
newConnection(D,A,10Mbps,1ms)
A.joinNetwork()
[10ms] B.joinNetwork()
[20ms] C.joinNetwork()
[30ms] D.joinNetwork()
[2s] assertCompleteAddressSpace()
`,
		check: passedOK("assertCompleteAddressSpace"),
	},
	{
		name: "graceful leave recovers address space",
		scenario: `
newNode(A)
newNode(B)
newNode(C)
newConnection(A,B,10Mbps,1ms)
newConnection(B,C,10Mbps,1ms)
A.joinNetwork()
[600ms] B.joinNetwork()
[1200ms] C.joinNetwork()
[1800ms] B.leaveNetwork()
[2000ms] A.assertPrimaryAddress('00000000')
`,
		check: passedOK("assertPrimaryAddress"),
	},
	{
		name: "rendez-vous send before resolution queues and resolves",
		scenario: `
newNode(A)
newNode(B)
newConnection(A,B,10Mbps,1ms)
A.joinNetwork()
[600ms] B.joinNetwork()
[650ms] A.testApplication.send('B','hello')
`,
		check: func(out string) bool { return strings.Contains(out, `type="node.rvclient.solved"`) },
	},
	{
		name: "traceRoute assertion reports a route",
		scenario: `
newNode(A)
newNode(B)
newNode(C)
newNode(D)
newConnection(A,B,10Mbps,1ms)
newConnection(B,C,10Mbps,1ms)
newConnection(C,D,10Mbps,1ms)
newConnection(D,A,10Mbps,1ms)
A.joinNetwork()
[10ms] B.joinNetwork()
[20ms] C.joinNetwork()
[30ms] D.joinNetwork()
[2050ms] A.traceRoute.assert('00000000','B')
[2100ms] # settle
`,
		check: func(out string) bool { return strings.Contains(out, `type="traceRoute.assert"`) },
	},
}

// passedOK checks that the named query result was emitted and that no
// result in the stream reported passed="false".
func passedOK(name string) func(string) bool {
	return func(out string) bool {
		return strings.Contains(out, `name="`+name+`"`) && !strings.Contains(out, `passed="false"`)
	}
}

func runSelfTests(logger *slog.Logger) int {
	failures := 0
	for _, test := range selfTests {
		var buf bytes.Buffer
		reg := prometheus.NewRegistry()
		coll := metrics.NewCollector(reg)
		notificator := sim.NewNotificator(&buf, nil)
		simulator := sim.NewSimulator(sim.DefaultParams(), coll, notificator, logger)

		if err := simulator.RunScenario(strings.NewReader(test.scenario)); err != nil {
			logger.Error("self-test run error", slog.String("test", test.name), slog.String("error", err.Error()))
			failures++
			continue
		}

		if !test.check(buf.String()) {
			logger.Error("self-test failed", slog.String("test", test.name))
			failures++
			continue
		}
		logger.Info("self-test passed", slog.String("test", test.name))
	}

	if failures > 0 {
		logger.Error("self-tests failed", slog.Int("failures", failures), slog.Int("total", len(selfTests)))
		return 1
	}
	logger.Info("all self-tests passed", slog.Int("total", len(selfTests)))
	return 0
}
