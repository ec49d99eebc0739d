package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"trace", "trace"},
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"off", "disabled"},
		{"", "warn"},
		{"  nonsense ", "warn"},
	}
	for _, c := range cases {
		lvl := parseLevel(c.in)
		if strings.ToLower(lvl.String()) != c.want {
			t.Fatalf("parseLevel(%q) = %q, want %q", c.in, lvl, c.want)
		}
	}
}

func TestInitNamedAndRunContext(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Component: "root", Writer: &buf})

	Named("pipeline").Info().Msg("named-msg")
	C(WithRun(context.Background(), "run-1")).Warn().Msg("run-msg")
	C(context.Background()).Debug().Msg("plain-msg")

	out := buf.String()
	for _, want := range []string{
		`"component":"pipeline"`,
		`"message":"named-msg"`,
		`"run_id":"run-1"`,
		`"message":"plain-msg"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}

	// Only the first Init counts.
	Init(Options{Level: "error", Writer: &bytes.Buffer{}})
	Get().Info().Msg("after-reinit")
	if !strings.Contains(buf.String(), "after-reinit") {
		t.Error("second Init must not replace the root logger")
	}

	if Named("") != Get() {
		t.Error("Named(\"\") should return the root logger")
	}
	if got := WithRun(context.Background(), ""); got != context.Background() {
		t.Error("empty run id should not wrap the context")
	}
}
