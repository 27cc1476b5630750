package main

import (
	"context"
	"errors"
	"sync"

	"voxareflect/internal/ports"
)

const (
	eventAudio      = "voxareflect:audio"
	eventAudioEnded = "voxareflect:audio-ended"
)

// webviewPlayer plays clips through the frontend's audio element. Commands go
// out as events and the frontend reports the end of each clip by id.
type webviewPlayer struct {
	send func(name string, data interface{})

	mu     sync.Mutex
	nextID int64
	clips  map[int64]*webviewClip
}

func newWebviewPlayer(send func(name string, data interface{})) *webviewPlayer {
	return &webviewPlayer{send: send, clips: make(map[int64]*webviewClip)}
}

func (p *webviewPlayer) Play(_ context.Context, url string, rate float64) (ports.Playback, error) {
	if url == "" {
		return nil, errors.New("clip url is empty")
	}

	p.mu.Lock()
	p.nextID++
	clip := &webviewClip{id: p.nextID, player: p, done: make(chan struct{})}
	p.clips[clip.id] = clip
	p.mu.Unlock()

	p.send(eventAudio, map[string]interface{}{
		"action": "play",
		"id":     clip.id,
		"url":    url,
		"rate":   rate,
	})
	return clip, nil
}

// handleEnded receives {"id": n, "error": "..."} from the frontend.
func (p *webviewPlayer) handleEnded(data ...interface{}) {
	if len(data) == 0 {
		return
	}
	payload, ok := data[0].(map[string]interface{})
	if !ok {
		return
	}
	id, ok := payload["id"].(float64)
	if !ok {
		return
	}
	var err error
	if msg, _ := payload["error"].(string); msg != "" {
		err = errors.New(msg)
	}

	p.mu.Lock()
	clip := p.clips[int64(id)]
	p.mu.Unlock()
	if clip != nil {
		clip.finish(err)
	}
}

func (p *webviewPlayer) forget(id int64) {
	p.mu.Lock()
	delete(p.clips, id)
	p.mu.Unlock()
}

func (p *webviewPlayer) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clips)
}

type webviewClip struct {
	id     int64
	player *webviewPlayer
	done   chan struct{}

	mu  sync.Mutex
	err error

	stopOnce sync.Once
	doneOnce sync.Once
}

func (c *webviewClip) SetRate(rate float64) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.player.send(eventAudio, map[string]interface{}{"action": "rate", "id": c.id, "rate": rate})
	return nil
}

func (c *webviewClip) Stop() error {
	c.stopOnce.Do(func() {
		select {
		case <-c.done:
			return
		default:
		}
		c.player.send(eventAudio, map[string]interface{}{"action": "stop", "id": c.id})
		c.finish(nil)
	})
	return nil
}

func (c *webviewClip) Done() <-chan struct{} {
	return c.done
}

func (c *webviewClip) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *webviewClip) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.player.forget(c.id)
		close(c.done)
	})
}
