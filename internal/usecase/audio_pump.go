package usecase

import (
	"errors"
	"fmt"
	"io"
	"time"

	"voxareflect/internal/audio"
	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

func pumpAudioChunks(
	tap ports.AudioTap,
	sink func([]byte),
	chunkSize int,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := tap.Read(buf)
		if n > 0 {
			sink(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				events.SessionError(domain.ErrorCodeDeviceNotReady, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

// pumpLevels emits the RMS level of the tap at most once per interval and
// reports silence when the tap ends.
func pumpLevels(
	tap ports.AudioTap,
	gain float64,
	interval time.Duration,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)
	defer events.AudioLevel(0)

	buf := make([]byte, 2048)
	var last time.Time
	for {
		n, err := tap.Read(buf)
		if n > 0 {
			if now := time.Now(); now.Sub(last) >= interval {
				last = now
				events.AudioLevel(audio.RMSLevel(buf[:n], gain))
			}
		}
		if err != nil {
			return
		}
	}
}

func waitForPump(done <-chan struct{}, timeout time.Duration, release func()) {
	select {
	case <-done:
		return
	case <-time.After(timeout):
		release()
		<-done
	}
}
