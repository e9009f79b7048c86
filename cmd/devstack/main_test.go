package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestUsageListsEveryCommand(t *testing.T) {
	var buf bytes.Buffer
	usage(&buf)
	out := buf.String()
	for _, command := range []string{"up", "down", "status", "history"} {
		if !strings.Contains(out, command) {
			t.Fatalf("usage is missing %q:\n%s", command, out)
		}
	}
}
