package seismod

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const scenarioYAML = `model:
  shape: [101, 101]
  spacing: [10, 10]
  nbl: 40
  velocity:
    background: 1.5
    layers:
      - depth: 500
        velocity: 2.5
acquisition:
  source:
    position: [20, 500]
    peak_frequency: 0.010
  receivers:
    first: [980, 0]
    last: [980, 1000]
    count: 101
run:
  time: 1000
  checkpoints: 16
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	scn, err := LoadScenario(writeScenario(t, scenarioYAML))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if scn.Run.SpaceOrder != DefaultSpaceOrder {
		t.Errorf("space order defaulted to %d, want %d", scn.Run.SpaceOrder, DefaultSpaceOrder)
	}
	if scn.Run.Checkpoints != 16 {
		t.Errorf("checkpoints = %d", scn.Run.Checkpoints)
	}
	coords := scn.Acquisition.Receivers.Coords()
	if len(coords) != 101 {
		t.Fatalf("receiver count = %d", len(coords))
	}
	if coords[0][1] != 0 || coords[100][1] != 1000 {
		t.Errorf("receiver line endpoints %v .. %v", coords[0], coords[100])
	}
	if math.Abs(coords[50][1]-500) > 1e-9 {
		t.Errorf("receiver midpoint = %v", coords[50])
	}
}

func TestLoadScenario_Invalid(t *testing.T) {
	cases := []struct {
		name string
		edit func(string) string
	}{
		{"missing background", func(s string) string {
			return replaceLine(s, "    background: 1.5", "    background: 0")
		}},
		{"bad order", func(s string) string {
			return s + "  space_order: 5\n"
		}},
		{"source dims", func(s string) string {
			return replaceLine(s, "    position: [20, 500]", "    position: [20]")
		}},
		{"zero time", func(s string) string {
			return replaceLine(s, "  time: 1000", "  time: 0")
		}},
	}
	for _, tc := range cases {
		if _, err := LoadScenario(writeScenario(t, tc.edit(scenarioYAML))); err == nil {
			t.Errorf("%s: invalid scenario accepted", tc.name)
		}
	}
}

func replaceLine(s, old, repl string) string {
	out := ""
	for _, line := range splitLines(s) {
		if line == old {
			line = repl
		}
		out += line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestScenario_BuildModelLayers(t *testing.T) {
	scn, err := LoadScenario(writeScenario(t, scenarioYAML))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	m, err := scn.BuildModel()
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	// Above the layer boundary squared slowness reflects 1.5, below 2.5.
	shallow := m.M[(10+m.NB)*m.strides[0]+50+m.NB]
	deep := m.M[(80+m.NB)*m.strides[0]+50+m.NB]
	if math.Abs(shallow-1.0/(1.5*1.5)) > 1e-12 {
		t.Errorf("shallow m = %g", shallow)
	}
	if math.Abs(deep-1.0/(2.5*2.5)) > 1e-12 {
		t.Errorf("deep m = %g", deep)
	}
}

func TestScenario_TimeAxis(t *testing.T) {
	scn, err := LoadScenario(writeScenario(t, scenarioYAML))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	m, err := scn.BuildModel()
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	dt, nt := scn.TimeAxis(m)
	if dt <= 0 || dt > m.CriticalDt(scn.Run.SpaceOrder) {
		t.Fatalf("dt = %g, critical %g", dt, m.CriticalDt(scn.Run.SpaceOrder))
	}
	if float64(nt-1)*dt < scn.Run.Time-dt {
		t.Fatalf("nt = %d too short for %g at dt %g", nt, scn.Run.Time, dt)
	}
}

func TestScenario_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_NBL", "20")
	body := replaceLine(scenarioYAML, "  nbl: 40", "  nbl: ${TEST_NBL}")
	scn, err := LoadScenario(writeScenario(t, body))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if scn.Model.NB != 20 {
		t.Fatalf("nbl = %d, want 20", scn.Model.NB)
	}
}
