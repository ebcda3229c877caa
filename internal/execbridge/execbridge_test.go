package execbridge

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

// fakeChannel implements ssh.Channel against in-memory buffers, recording
// the order of Write/Stderr-write/SendRequest("exit-status")/CloseWrite/Close
// calls so tests can assert ordering.
type fakeChannel struct {
	mu     sync.Mutex
	in     *bytes.Buffer
	out    bytes.Buffer
	errOut bytes.Buffer
	events []string

	exitStatus  int
	gotExit     bool
	closeWrites int
	closes      int
}

func newFakeChannel(input string) *fakeChannel {
	return &fakeChannel{in: bytes.NewBufferString(input)}
}

func (f *fakeChannel) Read(p []byte) (int, error) { return f.in.Read(p) }

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stdout")
	return f.out.Write(p)
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.events = append(f.events, "close")
	return nil
}

func (f *fakeChannel) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeWrites++
	f.events = append(f.events, "eof")
	return nil
}

func (f *fakeChannel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "exit-status" {
		f.gotExit = true
		f.exitStatus = int(payload[3]) | int(payload[2])<<8 | int(payload[1])<<16 | int(payload[0])<<24
		f.events = append(f.events, "exit-status")
	}
	return true, nil
}

func (f *fakeChannel) Stderr() io.ReadWriter { return &fakeStderr{f} }

type fakeStderr struct{ f *fakeChannel }

func (s *fakeStderr) Read(p []byte) (int, error) { return 0, io.EOF }
func (s *fakeStderr) Write(p []byte) (int, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.events = append(s.f.events, "stderr")
	return s.f.errOut.Write(p)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeOrch struct {
	running  bool
	exitCode int
}

func (f *fakeOrch) InspectExecRunning(ctx context.Context, execID string) (bool, int, error) {
	return f.running, f.exitCode, nil
}

// TestSessionExecOrdering exercises spec testable property #6 and scenario
// S4: stdout bytes, then exit-status, then eof, then close, in that order,
// with no stderr written for a clean exec.
func TestSessionExecOrdering(t *testing.T) {
	ch := newFakeChannel("")
	stdout := bytes.NewBufferString("hi\n")
	stream := &orchestrator.ExecStream{
		Stdin:  nopWriteCloser{io.Discard},
		Stdout: stdout,
		ExecID: "exec-1",
	}
	orch := &fakeOrch{running: false, exitCode: 1}

	b := newBridge(orch, stream, ch, KindSession)
	b.run(context.Background())
	b.Wait()

	if ch.out.String() != "hi\n" {
		t.Errorf("stdout = %q, want %q", ch.out.String(), "hi\n")
	}
	if ch.errOut.Len() != 0 {
		t.Errorf("expected no stderr, got %q", ch.errOut.String())
	}
	if !ch.gotExit || ch.exitStatus != 1 {
		t.Errorf("exit status = (%v, %d), want (true, 1)", ch.gotExit, ch.exitStatus)
	}

	wantOrder := []string{"stdout", "exit-status", "eof", "close"}
	if len(ch.events) < len(wantOrder) {
		t.Fatalf("events = %v, want at least %v", ch.events, wantOrder)
	}
	// stdout may be split across multiple Write calls; find indices of the
	// remaining singleton markers relative to the last stdout write.
	lastStdout := -1
	for i, e := range ch.events {
		if e == "stdout" {
			lastStdout = i
		}
	}
	idx := map[string]int{}
	for i, e := range ch.events {
		if e != "stdout" {
			idx[e] = i
		}
	}
	if !(lastStdout < idx["exit-status"] && idx["exit-status"] < idx["eof"] && idx["eof"] < idx["close"]) {
		t.Errorf("unexpected event order: %v", ch.events)
	}
}

// TestTcpForwardNeverEmitsExitStatus covers the TcpForward half of
// property #6: the channel is still closed when output ends, but no
// exit-status request is ever sent.
func TestTcpForwardNeverEmitsExitStatus(t *testing.T) {
	ch := newFakeChannel("")
	stream := &orchestrator.ExecStream{
		Stdin:  nopWriteCloser{io.Discard},
		Stdout: bytes.NewBufferString("PONG\n"),
		ExecID: "exec-2",
	}
	orch := &fakeOrch{running: false, exitCode: 0}

	b := newBridge(orch, stream, ch, KindTcpForward)
	b.run(context.Background())
	b.Wait()

	if ch.gotExit {
		t.Error("TcpForward bridge must never send exit-status")
	}
	if ch.closes == 0 {
		t.Error("expected channel to be closed")
	}
}

// TestTcpForwardDropsStderr verifies stderr from a TcpForward exec never
// reaches the channel even when the exec produces some.
func TestTcpForwardDropsStderr(t *testing.T) {
	ch := newFakeChannel("")
	stream := &orchestrator.ExecStream{
		Stdin:  nopWriteCloser{io.Discard},
		Stdout: bytes.NewBufferString(""),
		Stderr: bytes.NewBufferString("garbage\n"),
		ExecID: "exec-3",
	}
	orch := &fakeOrch{running: false, exitCode: 0}

	b := newBridge(orch, stream, ch, KindTcpForward)
	b.run(context.Background())
	b.Wait()

	if ch.errOut.Len() != 0 {
		t.Errorf("expected stderr never written to channel, got %q", ch.errOut.String())
	}
}

// TestSessionPreservesStderr verifies Session-kind bridges forward stderr
// as extended-data.
func TestSessionPreservesStderr(t *testing.T) {
	ch := newFakeChannel("")
	stream := &orchestrator.ExecStream{
		Stdin:  nopWriteCloser{io.Discard},
		Stdout: bytes.NewBufferString(""),
		Stderr: bytes.NewBufferString("oops\n"),
		ExecID: "exec-4",
	}
	orch := &fakeOrch{running: false, exitCode: 0}

	b := newBridge(orch, stream, ch, KindSession)
	b.run(context.Background())
	b.Wait()

	if ch.errOut.String() != "oops\n" {
		t.Errorf("stderr = %q, want %q", ch.errOut.String(), "oops\n")
	}
}

// TestStdinClosesOnClientEOF verifies the client->container pump closes
// the exec's stdin sink once the channel reader is exhausted.
func TestStdinClosesOnClientEOF(t *testing.T) {
	ch := newFakeChannel("typed input")
	var sinkClosed bool
	var sinkBuf bytes.Buffer
	sink := &closeTrackingWriter{w: &sinkBuf, closed: &sinkClosed}
	stream := &orchestrator.ExecStream{
		Stdin:  sink,
		Stdout: bytes.NewBufferString(""),
		ExecID: "exec-5",
	}
	orch := &fakeOrch{running: false, exitCode: 0}

	b := newBridge(orch, stream, ch, KindSession)
	b.run(context.Background())
	b.Wait()

	if sinkBuf.String() != "typed input" {
		t.Errorf("sink got %q, want %q", sinkBuf.String(), "typed input")
	}
	if !sinkClosed {
		t.Error("expected stdin sink to be closed on client EOF")
	}
}

type closeTrackingWriter struct {
	w      io.Writer
	closed *bool
}

func (c *closeTrackingWriter) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *closeTrackingWriter) Close() error                { *c.closed = true; return nil }

// TestResizeIgnoredWhenNoResizeFunc verifies a nil Resize func (non-TTY
// exec) is a no-op rather than a panic.
func TestResizeIgnoredWhenNoResizeFunc(t *testing.T) {
	stream := &orchestrator.ExecStream{Stdin: nopWriteCloser{io.Discard}, Stdout: bytes.NewBufferString("")}
	b := newBridge(&fakeOrch{}, stream, newFakeChannel(""), KindSession)
	if err := b.Resize(context.Background(), 80, 24); err != nil {
		t.Errorf("Resize with nil func should be a no-op, got %v", err)
	}
}

// TestPollExitCodeWaitsForCompletion ensures polling retries while the
// exec is still reported as running, then returns the exit code once it
// stops.
func TestPollExitCodeWaitsForCompletion(t *testing.T) {
	seq := &sequencedOrch{results: []inspectResult{
		{running: true},
		{running: true},
		{running: false, code: 7},
	}}
	code := pollExitCode(context.Background(), seq, "exec-6")
	if code != 7 {
		t.Errorf("pollExitCode() = %d, want 7", code)
	}
	if seq.calls != 3 {
		t.Errorf("expected 3 poll attempts, got %d", seq.calls)
	}
}

type inspectResult struct {
	running bool
	code    int
}

type sequencedOrch struct {
	results []inspectResult
	calls   int
}

func (s *sequencedOrch) InspectExecRunning(ctx context.Context, execID string) (bool, int, error) {
	r := s.results[s.calls]
	s.calls++
	return r.running, r.code, nil
}

func TestPollExitCodeTimesOutAt255(t *testing.T) {
	t.Parallel()
	alwaysRunning := &fakeOrch{running: true}
	// Use a tight context deadline instead of waiting out 80*25ms.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	code := pollExitCode(ctx, alwaysRunning, "exec-7")
	if code != coercedExitCode {
		t.Errorf("pollExitCode() = %d, want %d on timeout", code, coercedExitCode)
	}
}

func TestPollExitCodeCoercesNegative(t *testing.T) {
	code := pollExitCode(context.Background(), &fakeOrch{running: false, exitCode: -1}, "exec-8")
	if code != coercedExitCode {
		t.Errorf("pollExitCode() = %d, want %d for negative exit code", code, coercedExitCode)
	}
}
