package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

// Microphone grants a long-lived capture stream that fans out to taps.
type Microphone struct {
	capture   ports.AudioCapture
	chunkSize int
}

func NewMicrophone(capture ports.AudioCapture, chunkSize int) *Microphone {
	if chunkSize < 256 {
		chunkSize = 4096
	}
	return &Microphone{capture: capture, chunkSize: chunkSize}
}

// RequestAccess starts capture. The stream outlives ctx and is released by Close.
func (m *Microphone) RequestAccess(ctx context.Context, cfg ports.AudioConfig) (ports.LiveStream, error) {
	session, err := m.capture.Start(context.WithoutCancel(ctx), cfg)
	if err != nil {
		if errors.Is(err, domain.ErrCaptureUnsupported) || errors.Is(err, domain.ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	stream := &liveStream{
		session: session,
		taps:    make(map[*streamTap]struct{}),
		done:    make(chan struct{}),
	}
	go stream.run(m.chunkSize)
	return stream, nil
}

type liveStream struct {
	session ports.AudioSession

	mu     sync.Mutex
	taps   map[*streamTap]struct{}
	closed bool
	err    error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *liveStream) run(chunkSize int) {
	defer close(s.done)

	buf := make([]byte, chunkSize)
	for {
		n, err := s.session.Read(buf)
		if n > 0 {
			s.broadcast(buf[:n])
		}
		if err != nil {
			s.finish(err)
			return
		}
	}
}

func (s *liveStream) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tap := range s.taps {
		tap.write(chunk)
	}
}

func (s *liveStream) finish(err error) {
	s.mu.Lock()
	taps := s.taps
	s.taps = make(map[*streamTap]struct{})
	s.closed = true
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	s.mu.Unlock()

	for tap := range taps {
		tap.finish()
	}
}

// Tap opens an independent reader that sees audio from now on.
func (s *liveStream) Tap() (ports.AudioTap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceNotReady, s.err)
		}
		return nil, domain.ErrDeviceNotReady
	}
	tap := &streamTap{stream: s}
	tap.cond = sync.NewCond(&tap.mu)
	s.taps[tap] = struct{}{}
	return tap, nil
}

func (s *liveStream) Done() <-chan struct{} { return s.done }

// Err reports the read failure that ended the stream, or nil after a clean stop.
func (s *liveStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *liveStream) remove(tap *streamTap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.taps, tap)
}

func (s *liveStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Stop()
		<-s.done
	})
	return s.closeErr
}

// streamTap buffers everything written until it is read; after Close the
// remaining buffer drains before Read returns io.EOF.
type streamTap struct {
	stream *liveStream

	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool

	closeOnce sync.Once
}

func (t *streamTap) write(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.buf.Write(chunk)
	t.cond.Broadcast()
}

func (t *streamTap) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.buf.Len() == 0 && !t.closed {
		t.cond.Wait()
	}
	if t.buf.Len() > 0 {
		return t.buf.Read(p)
	}
	return 0, io.EOF
}

func (t *streamTap) Close() error {
	t.closeOnce.Do(func() {
		t.stream.remove(t)
		t.finish()
	})
	return nil
}

func (t *streamTap) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
}
