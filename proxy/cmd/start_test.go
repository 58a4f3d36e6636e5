package cmd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/julienstroheker/mavrelay/internal/config"
	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/internal/mavlink"
)

func writeCapture(t *testing.T, frames int) string {
	t.Helper()
	var capture []byte
	for seq := range frames {
		f := mavlink.Frame{
			Header: mavlink.Header{
				Version:     mavlink.V2,
				Sequence:    uint8(seq),
				SystemID:    1,
				ComponentID: 1,
				MessageID:   0,
			},
			Payload: []byte{0, 0, 0, 0, 2, 3, 81, 4, 3},
		}
		f.Seal(50)
		capture = f.AppendBinary(capture)
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, capture, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestStartCommandHelp(t *testing.T) {
	testMutex.Lock()
	defer testMutex.Unlock()

	output, err := executeCommand(context.Background(), "start", "--help")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for _, flag := range []string{"--connect", "--verbose", "--router", "--reconnect", "--admin-addr", "udpin:0.0.0.0:14550"} {
		if !strings.Contains(output, flag) {
			t.Errorf("Expected output to contain %q, got: %s", flag, output)
		}
	}
}

func TestStartCommand_InvalidConfig(t *testing.T) {
	testMutex.Lock()
	defer testMutex.Unlock()

	_, err := executeCommand(context.Background(), "start", "--router", "mesh")
	if err == nil || !strings.Contains(err.Error(), "unknown router") {
		t.Errorf("Expected router validation error, got: %v", err)
	}
}

func TestStartCommand_BootstrapFailure(t *testing.T) {
	testMutex.Lock()
	defer testMutex.Unlock()

	_, err := executeCommand(context.Background(), "start", "-c", "udpin:127.0.0.1:0", "-c", "bogus")

	var bootErr *endpoint.BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("Expected BootstrapError, got: %v", err)
	}
	if bootErr.Index != 1 {
		t.Errorf("Expected failure at index 1, got %d", bootErr.Index)
	}
}

func TestStartCommand_SingleReplayEndpoint(t *testing.T) {
	testMutex.Lock()
	defer testMutex.Unlock()

	path := writeCapture(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the only worker stops at end of file, which ends the command
	output, err := executeCommand(ctx, "start", "-c", "file:"+path, "--poll-timeout", "20ms", "--backoff", "10ms")
	if err != nil {
		t.Fatalf("Expected no error, got: %v\n%s", err, output)
	}
	if ctx.Err() != nil {
		t.Fatal("Expected command to finish on its own")
	}
	if !strings.Contains(output, "Replay finished") {
		t.Errorf("Expected the replay to finish, got: %s", output)
	}
	for _, unexpected := range []string{"Connection configured", "Endpoint stopped receiving", "\tWARN\t", "\tERROR\t"} {
		if strings.Contains(output, unexpected) {
			t.Errorf("Expected no %q in quiet replay output, got: %s", unexpected, output)
		}
	}
}

func TestStartCommand_RelaysReplayToUDP(t *testing.T) {
	testMutex.Lock()
	defer testMutex.Unlock()

	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer func() { _ = sink.Close() }()
	port := sink.LocalAddr().(*net.UDPAddr).Port

	path := writeCapture(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := executeCommand(ctx, "start",
			"-c", "file:"+path,
			"-c", "udpout:127.0.0.1:"+strconv.Itoa(port),
			"-v",
			"--router", "queue",
			"--poll-timeout", "20ms",
			"--backoff", "10ms")
		done <- result{output, err}
	}()

	var received []byte
	buf := make([]byte, mavlink.MaxFrameLen)
	_ = sink.SetReadDeadline(time.Now().Add(5 * time.Second))
	for range 2 {
		n, _, err := sink.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("Expected forwarded datagram, got: %v", err)
		}
		received = append(received, buf[:n]...)
	}

	cancel()
	res := <-done
	if res.err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", res.err)
	}

	r := mavlink.NewReader(bytes.NewReader(received), mavlink.AnyVersion)
	for seq := range 2 {
		f, err := r.Read()
		if err != nil {
			t.Fatalf("Failed to decode forwarded frame: %v", err)
		}
		if int(f.Sequence) != seq {
			t.Errorf("Expected seq %d, got %d", seq, f.Sequence)
		}
	}
	for _, want := range []string{"Frame forwarded", "Connection configured"} {
		if !strings.Contains(res.output, want) {
			t.Errorf("Expected verbose output to contain %q, got: %s", want, res.output)
		}
	}
}

func TestStartCommand_AdminServer(t *testing.T) {
	testMutex.Lock()
	defer testMutex.Unlock()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	adminAddr := ln.Addr().String()
	_ = ln.Close()

	// the admin port is taken, so the command must fail through the server error path
	blocker, err := net.Listen("tcp", adminAddr)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = blocker.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = executeCommand(ctx, "start", "-c", "udpin:127.0.0.1:0", "--admin-addr", adminAddr, "--poll-timeout", "20ms")
	if err == nil || !strings.Contains(err.Error(), "admin server error") {
		t.Errorf("Expected admin server error, got: %v", err)
	}
}

func TestNeedsAzure(t *testing.T) {
	if needsAzure([]string{"udpin:0.0.0.0:14550", "tcpout:h:1"}) {
		t.Error("Expected no Azure for plain network endpoints")
	}
	if !needsAzure([]string{"udpin:0.0.0.0:14550", "hcout:ns:vehicle"}) {
		t.Error("Expected Azure for hybrid connection endpoints")
	}
}

func TestAzureOptions_SAS(t *testing.T) {
	c := &config.Config{Connect: []string{"hcin:ns:vehicle"}}
	c.Azure.SASKeyName = "RootManageSharedAccessKey"
	c.Azure.SASKey = "c2VjcmV0"

	opts, err := azureOptions(c, logging.Nop())
	if err != nil {
		t.Fatalf("azureOptions failed: %v", err)
	}
	if opts == nil || opts.Tokens == nil {
		t.Fatal("Expected a token source")
	}
	if opts.Ensurer != nil {
		t.Error("Expected no ensurer unless requested")
	}

	none, err := azureOptions(&config.Config{Connect: []string{"udpin:0.0.0.0:14550"}}, logging.Nop())
	if err != nil || none != nil {
		t.Errorf("Expected nil options without hybrid endpoints, got %v, %v", none, err)
	}
}
