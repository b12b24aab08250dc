package klog

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewTagsVersion(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 3)
	l.Info("hello")
	out := buf.String()
	if !strings.Contains(out, "kutrace_version=3") {
		t.Fatalf("expected version tag in output, got %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected message in output, got %q", out)
	}
}

func TestWithCPUAddsAttr(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, 3).WithCPU(2)
	l.Warn("oops")
	out := buf.String()
	if !strings.Contains(out, "cpu=2") {
		t.Fatalf("expected cpu tag in output, got %q", out)
	}
}

func TestDiscardProducesNoOutput(t *testing.T) {
	l := Discard()
	l.Info("should not appear anywhere observable")
}
