package sim_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dantte-lp/hcsim/internal/sim"
	"github.com/dantte-lp/hcsim/internal/units"
)

func TestNotificatorEmitsWellFormedScenarioDocument(t *testing.T) {
	var buf bytes.Buffer
	n := sim.NewNotificator(&buf, nil)

	passed := true
	err := n.Emit(250*units.Millisecond, "simulator.exec.query", "", &sim.QueryResult{
		Name:   "assertPrimaryAddress",
		Passed: &passed,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "<scenario>") {
		t.Fatalf("missing root element: %s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "</scenario>") {
		t.Fatalf("missing closing root element: %s", out)
	}
	if !strings.Contains(out, `type="simulator.exec.query"`) {
		t.Fatalf("missing notification type: %s", out)
	}
	if !strings.Contains(out, `name="assertPrimaryAddress"`) {
		t.Fatalf("missing result name: %s", out)
	}
	if !strings.Contains(out, `passed="true"`) {
		t.Fatalf("missing passed attribute: %s", out)
	}
}

func TestNotificatorFilterSuppressesKind(t *testing.T) {
	var buf bytes.Buffer
	n := sim.NewNotificator(&buf, func(kind string) bool { return kind != "packet.discarded" })

	if err := n.Emit(0, "packet.discarded", "dropped", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "packet.discarded") {
		t.Fatalf("filtered notification leaked into output: %s", out)
	}
}

func TestNotificatorCloseWithoutEmitStillProducesRootElement(t *testing.T) {
	var buf bytes.Buffer
	n := sim.NewNotificator(&buf, nil)
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(out, "<scenario>") || !strings.HasSuffix(out, "</scenario>") {
		t.Fatalf("got %q, want an empty scenario document", out)
	}
}
