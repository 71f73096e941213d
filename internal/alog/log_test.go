package alog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &defaultLogger{level: levelWarn, output: &buf}
	SetLogger(l, nil)

	Debugf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered, got %q", buf.String())
	}

	Warnf("shard %d exhausted", 3)
	if !strings.Contains(buf.String(), "shard 3 exhausted") {
		t.Fatalf("expected warn message, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"fatal":   levelFatal,
		"error":   levelError,
		"WARN":    levelWarn,
		"Info":    levelInfo,
		"verbose": levelVerbose,
		"debug":   levelDebug,
		"trace":   levelTrace,
		"junk":    levelWarn,
	}
	for s, want := range cases {
		if got := parseLevel(s); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestTraceRequiresTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	l := &defaultLogger{level: levelDebug, output: &buf}
	SetLogger(l, nil)

	Tracef("should not appear at debug level")
	if buf.Len() != 0 {
		t.Fatalf("expected trace to be filtered at debug level, got %q", buf.String())
	}

	l.level = levelTrace
	Tracef("shard %d cold-path acquire", 2)
	if !strings.Contains(buf.String(), "shard 2 cold-path acquire") {
		t.Fatalf("expected trace message, got %q", buf.String())
	}
}
