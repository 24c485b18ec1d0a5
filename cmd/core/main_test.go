package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/silwalsubin/guras-sub000/internal/cli"
)

func TestVersionDefault(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestVersionFlag(t *testing.T) {
	cli.Version = Version
	var out, errOut bytes.Buffer
	code := cli.Run(context.Background(), []string{"--version"}, &out, &errOut)
	if code != cli.ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("output %q does not contain version %q", out.String(), Version)
	}
}
