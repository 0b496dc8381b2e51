package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCmd(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	if !strings.Contains(out.String(), "sapiens dev") {
		t.Errorf("version output = %q, want sapiens dev", out.String())
	}
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "serve", "migrate", "chat"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"no-such-command"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	if code := execute(root); code != 1 {
		t.Errorf("execute = %d, want 1 for unknown command", code)
	}
}
