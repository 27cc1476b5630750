package usecase

import (
	"bytes"
	"sync"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

type activeRecording struct {
	id     string
	target domain.Target

	recorder ports.AudioTap
	meter    ports.AudioTap

	bufMu  sync.Mutex
	pcm    bytes.Buffer
	chunks int

	recorderDone chan struct{}
	meterDone    chan struct{}

	meterOnce sync.Once
}

func (r *activeRecording) append(chunk []byte) {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	r.pcm.Write(chunk)
	r.chunks++
}

func (r *activeRecording) snapshot() ([]byte, int) {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	return bytes.Clone(r.pcm.Bytes()), r.chunks
}

// stopMeter releases the monitoring tap and waits for the meter loop. Safe to
// call more than once.
func (r *activeRecording) stopMeter() {
	r.meterOnce.Do(func() {
		_ = r.meter.Close()
		<-r.meterDone
	})
}
