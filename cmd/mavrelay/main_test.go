package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestMainVersion(t *testing.T) {
	// Save original args and stdout
	oldArgs := os.Args
	oldStdout := os.Stdout
	defer func() {
		os.Args = oldArgs
		os.Stdout = oldStdout
	}()

	// Redirect stdout to capture output
	r, w, _ := os.Pipe()
	os.Stdout = w
	os.Args = []string{"mavrelay", "version"}

	done := make(chan string)
	go func() {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r)
		done <- buf.String()
	}()

	main()

	_ = w.Close()
	output := <-done

	if !strings.HasPrefix(output, "mavrelay ") {
		t.Errorf("Expected version output, got: %s", output)
	}
}
