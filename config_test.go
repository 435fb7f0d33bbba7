package hysteresis

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config: %s", err)
	}
	if err := DefaultChannels().Validate(); err != nil {
		t.Errorf("default channels: %s", err)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, td := range []struct {
		name  string
		mod   func(*SweepConfig)
		wants []string
	}{
		{"probe too high", func(c *SweepConfig) { c.ProbeMax = 10.5 }, []string{"probe max"}},
		{"NaN bound", func(c *SweepConfig) { c.ProbeMax = math.NaN() }, []string{"probe max"}},
		{"Inf bound", func(c *SweepConfig) { c.ElectrodeMax = math.Inf(1) }, []string{"bottom electrode max"}},
		{"electrode too low", func(c *SweepConfig) { c.ElectrodeMin = -11 }, []string{"bottom electrode min"}},
		{"negative settle", func(c *SweepConfig) { c.ZeroSettle = -time.Millisecond }, []string{"0 V settle"}},
		{"no dwell", func(c *SweepConfig) { c.BiasDwell, c.ZeroDwell = 0, 0 }, []string{"both 0"}},
		{"steps", func(c *SweepConfig) { c.StepCount = 0 }, []string{"steps"}},
		{"loops", func(c *SweepConfig) { c.LoopCount = 0 }, []string{"loop number"}},
		{"pattern", func(c *SweepConfig) { c.Pattern = Pattern(9) }, []string{"unknown pattern"}},
		{"scope rate", func(c *SweepConfig) { c.Scope.Rate = NumScopeRates }, []string{"scope rate 16"}},
		{"several", func(c *SweepConfig) {
			c.ProbeMin = -12
			c.StepCount = -1
			c.LoopCount = 0
		}, []string{"probe min", "steps", "loop number"}},
	} {
		t.Run(td.name, func(t *testing.T) {
			cfg := DefaultConfig()
			td.mod(&cfg)
			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("got %v, want a *ConfigError", err)
			}
			if len(ce.Violations) != len(td.wants) {
				t.Errorf("got %d violations %q, want %d", len(ce.Violations), ce.Violations, len(td.wants))
			}
			for _, w := range td.wants {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("%q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestConfigValidateBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbeMax, cfg.ProbeMin = 10, -10
	cfg.ElectrodeMax, cfg.ElectrodeMin = 10, -10
	cfg.ZeroDwell, cfg.ZeroSettle = 0, 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("limits are inclusive: %s", err)
	}
}

func TestChannelsValidate(t *testing.T) {
	ch := Channels{Device: " ", ProbeAux: 2, ElectrodeAux: 2, Demod: 7, SignalOut: 0, ScopeInput: 3}
	err := ch.Validate()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want a *ConfigError", err)
	}
	if len(ce.Violations) != 5 {
		t.Errorf("got %d violations, want 5: %q", len(ce.Violations), ce.Violations)
	}
}

func TestMergeConfigErrors(t *testing.T) {
	if err := MergeConfigErrors(nil, nil); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	cfg := DefaultConfig()
	cfg.LoopCount = 0
	ch := DefaultChannels()
	ch.Demod = 0
	err := MergeConfigErrors(cfg.Validate(), ch.Validate())
	var ce *ConfigError
	if !errors.As(err, &ce) || len(ce.Violations) != 2 {
		t.Errorf("got %v, want two violations", err)
	}
}

func TestChannelPaths(t *testing.T) {
	ch := DefaultChannels()
	ch.Demod = 3
	if got, want := ch.DemodPath(), "/dev801/demods/2/sample"; got != want {
		t.Errorf("demod path %q, want %q", got, want)
	}
	if got, want := ch.ScopePath(), "/dev801/scopes/0/wave"; got != want {
		t.Errorf("scope path %q, want %q", got, want)
	}
}

func TestParsePattern(t *testing.T) {
	for _, p := range Patterns {
		got, err := ParsePattern(" " + strings.ToLower(p.String()) + "\n")
		if err != nil || got != p {
			t.Errorf("%s: got %v, %v", p, got, err)
		}
	}
	var p Pattern
	if err := p.Set("sideways"); err == nil {
		t.Error("expected an error for an unknown pattern")
	}
	if err := p.Set("min-max-min"); err != nil || p != MinMaxMin {
		t.Errorf("Set: got %v, %v", p, err)
	}
}
