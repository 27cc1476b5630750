package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

func TestMicrophoneTapsReceiveIndependentCopies(t *testing.T) {
	t.Parallel()

	session := newPipeSession()
	mic := NewMicrophone(&stubCapture{session: session}, 256)

	stream, err := mic.RequestAccess(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("request access failed: %v", err)
	}
	defer stream.Close()

	recorder, err := stream.Tap()
	if err != nil {
		t.Fatalf("tap failed: %v", err)
	}
	meter, err := stream.Tap()
	if err != nil {
		t.Fatalf("tap failed: %v", err)
	}

	session.feed([]byte("abcd"))
	waitForBytes(t, meter, "abcd")

	if err := meter.Close(); err != nil {
		t.Fatalf("meter close failed: %v", err)
	}
	session.feed([]byte("efgh"))
	waitForBytes(t, recorder, "abcdefgh")

	if _, err := meter.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Fatalf("closed tap should report EOF, got %v", err)
	}
}

func TestMicrophoneTapDrainsBufferedAudioAfterClose(t *testing.T) {
	t.Parallel()

	session := newPipeSession()
	stream, err := NewMicrophone(&stubCapture{session: session}, 256).RequestAccess(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("request access failed: %v", err)
	}
	defer stream.Close()

	tap, _ := stream.Tap()
	session.feed([]byte("xyz"))
	time.Sleep(20 * time.Millisecond)
	_ = tap.Close()

	data, err := io.ReadAll(tap)
	if err != nil {
		t.Fatalf("read all failed: %v", err)
	}
	if string(data) != "xyz" {
		t.Fatalf("expected buffered audio to drain, got %q", data)
	}
}

func TestMicrophoneCloseEndsTapsAndRejectsNewTaps(t *testing.T) {
	t.Parallel()

	session := newPipeSession()
	stream, err := NewMicrophone(&stubCapture{session: session}, 256).RequestAccess(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("request access failed: %v", err)
	}
	tap, _ := stream.Tap()

	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if session.stopCalls() != 1 {
		t.Fatalf("expected exactly one stop, got %d", session.stopCalls())
	}
	if _, err := tap.Read(make([]byte, 8)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stream close, got %v", err)
	}
	if _, err := stream.Tap(); !errors.Is(err, domain.ErrDeviceNotReady) {
		t.Fatalf("expected device not ready, got %v", err)
	}
}

func TestMicrophoneStreamReportsReadFailure(t *testing.T) {
	t.Parallel()

	session := &failingSession{err: io.ErrUnexpectedEOF}
	stream, err := NewMicrophone(&stubCapture{session: session}, 256).RequestAccess(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("request access failed: %v", err)
	}
	defer stream.Close()

	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		t.Fatalf("stream did not end after the read failure")
	}
	if !errors.Is(stream.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("expected read failure to be reported, got %v", stream.Err())
	}
	if _, err := stream.Tap(); !errors.Is(err, domain.ErrDeviceNotReady) {
		t.Fatalf("expected device not ready after failure, got %v", err)
	}
}

func TestMicrophoneStreamCleanStopHasNoError(t *testing.T) {
	t.Parallel()

	stream, err := NewMicrophone(&stubCapture{session: newPipeSession()}, 256).RequestAccess(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("request access failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	select {
	case <-stream.Done():
	default:
		t.Fatalf("expected Done to be closed after Close")
	}
	if stream.Err() != nil {
		t.Fatalf("expected no error after a clean stop, got %v", stream.Err())
	}
}

func TestMicrophoneWrapsStartFailureAsPermissionDenied(t *testing.T) {
	t.Parallel()

	mic := NewMicrophone(&stubCapture{err: errors.New("busy")}, 0)
	_, err := mic.RequestAccess(context.Background(), ports.AudioConfig{})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	mic = NewMicrophone(&stubCapture{err: domain.ErrCaptureUnsupported}, 0)
	_, err = mic.RequestAccess(context.Background(), ports.AudioConfig{})
	if !errors.Is(err, domain.ErrCaptureUnsupported) {
		t.Fatalf("expected capture unsupported passthrough, got %v", err)
	}
}

func TestRMSLevel(t *testing.T) {
	t.Parallel()

	if got := RMSLevel(nil, 0); got != 0 {
		t.Fatalf("expected silence for empty input, got %f", got)
	}
	if got := RMSLevel(pcm16(0, 0, 0, 0), DefaultLevelGain); got != 0 {
		t.Fatalf("expected zero level, got %f", got)
	}
	if got := RMSLevel(pcm16(32767, -32768, 32767, -32768), DefaultLevelGain); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	mid := RMSLevel(pcm16(3000, -3000, 3000, -3000), DefaultLevelGain)
	if mid <= 0 || mid >= 1 {
		t.Fatalf("expected level in (0,1), got %f", mid)
	}
	if got := RMSLevel(append(pcm16(3000, -3000), 0x7f), DefaultLevelGain); got <= 0 {
		t.Fatalf("trailing byte should be ignored, got %f", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()

	wav, err := EncodeWAV(pcm16(1, 2, 3), 16000, 1)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(wav) != 44+6 {
		t.Fatalf("unexpected length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected header: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("unexpected sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 6 {
		t.Fatalf("unexpected data size %d", got)
	}

	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Fatalf("expected error for empty audio")
	}
	if _, err := EncodeWAV([]byte{1}, 16000, 1); err == nil {
		t.Fatalf("expected error for partial frame")
	}
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func waitForBytes(t *testing.T, r io.Reader, want string) {
	t.Helper()
	var got bytes.Buffer
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 64)
	for got.String() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q, got %q", want, got.String())
		}
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			t.Fatalf("read failed: %v (got %q)", err, got.String())
		}
	}
}

type stubCapture struct {
	session ports.AudioSession
	err     error
}

func (s *stubCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

type pipeSession struct {
	chunks chan []byte
	done   chan struct{}

	mu    sync.Mutex
	stops int
	once  sync.Once
}

func newPipeSession() *pipeSession {
	return &pipeSession{chunks: make(chan []byte, 16), done: make(chan struct{})}
}

func (p *pipeSession) feed(chunk []byte) { p.chunks <- chunk }

func (p *pipeSession) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.chunks:
		return copy(b, chunk), nil
	case <-p.done:
		return 0, io.EOF
	}
}

func (p *pipeSession) Close() error { return p.Stop() }

func (p *pipeSession) Stop() error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *pipeSession) stopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type failingSession struct {
	err error
}

func (f *failingSession) Read([]byte) (int, error) { return 0, f.err }
func (f *failingSession) Close() error             { return nil }
func (f *failingSession) Stop() error              { return nil }
