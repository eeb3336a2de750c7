// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State of a pipeline.
type State int

// States, in transition order.
const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	}
	return "UNKNOWN"
}

// ErrPipelineClosed pipeline has been closed.
var ErrPipelineClosed = errors.New("pipeline is closed")

// Element is an active pipeline stage. Run is started when the
// pipeline enters Playing and must return once ctx is canceled.
// A non-nil error is posted on the bus as fatal.
type Element interface {
	Name() string
	Run(ctx context.Context) error
}

// Pipeline supervises elements and owns the bus. Data only flows
// while the pipeline is Playing.
type Pipeline struct {
	name string
	bus  *Bus

	mu       sync.Mutex
	state    State
	closed   bool
	elements []Element
	started  map[Element]bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	eosMu   sync.Mutex
	sinks   map[string]bool // sink name -> end of stream seen.
	eosSent bool
}

// New returns a pipeline in the Null state.
func New(name string) *Pipeline {
	return &Pipeline{
		name:    name,
		bus:     newBus(),
		started: map[Element]bool{},
		sinks:   map[string]bool{},
	}
}

// Name .
func (p *Pipeline) Name() string {
	return p.name
}

// Bus returns the message bus.
func (p *Pipeline) Bus() *Bus {
	return p.bus
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Add an element. Elements added while the pipeline is Playing
// start immediately.
func (p *Pipeline) Add(el Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	p.elements = append(p.elements, el)
	if p.state == StatePlaying {
		p.startElement(el)
	}
	return nil
}

// mu must be held and ctx valid.
func (p *Pipeline) startElement(el Element) {
	p.started[el] = true
	p.wg.Add(1)

	ctx := p.ctx
	go func() {
		defer p.wg.Done()
		if err := el.Run(ctx); err != nil {
			p.bus.Post(MessageError{
				Src:   el.Name(),
				Err:   err,
				Debug: fmt.Sprintf("element %v stopped pipeline %v", el.Name(), p.name),
			})
		}
	}()
}

// SetState walks through adjacent states until target is reached,
// posting a StateChanged message per step. Leaving Playing cancels
// and waits for every element.
func (p *Pipeline) SetState(target State) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}

	for p.state != target {
		old := p.state
		next := old + 1
		if target < old {
			next = old - 1
		}

		if next == StatePlaying {
			p.ctx, p.cancel = context.WithCancel(context.Background())
			for _, el := range p.elements {
				if !p.started[el] {
					p.startElement(el)
				}
			}
		}

		// Flip the state before waiting so Add won't start
		// elements into a canceled context.
		p.state = next

		if old == StatePlaying {
			cancel := p.cancel
			p.mu.Unlock()
			cancel()
			p.wg.Wait()
			p.mu.Lock()
			p.started = map[Element]bool{}
		}

		p.bus.Post(MessageStateChanged{Src: p.name, Old: old, Current: next})
	}
	p.mu.Unlock()
	return nil
}

// Close tears the pipeline down to Null. Weak references stop
// resolving afterwards. Close is idempotent.
func (p *Pipeline) Close() error {
	err := p.SetState(StateNull)
	if errors.Is(err, ErrPipelineClosed) {
		return nil
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// RegisterSink adds a sink to end-of-stream aggregation.
func (p *Pipeline) RegisterSink(name string) {
	p.eosMu.Lock()
	defer p.eosMu.Unlock()

	if _, exists := p.sinks[name]; !exists {
		p.sinks[name] = false
	}
}

// SinkEOS marks a registered sink as having reached end of stream.
// Once every registered sink has, a single EOS message is posted.
func (p *Pipeline) SinkEOS(name string) {
	p.eosMu.Lock()
	defer p.eosMu.Unlock()

	if _, exists := p.sinks[name]; !exists {
		return
	}
	p.sinks[name] = true

	if p.eosSent {
		return
	}
	for _, done := range p.sinks {
		if !done {
			return
		}
	}
	p.eosSent = true
	p.bus.Post(MessageEOS{Src: p.name})
}

// WeakRef returns a non-owning reference to the pipeline.
func (p *Pipeline) WeakRef() *WeakRef {
	return &WeakRef{p: p}
}

// WeakRef resolves to its pipeline until the pipeline is closed.
// Callbacks that may outlive the pipeline hold one instead of the
// pipeline itself.
type WeakRef struct {
	p *Pipeline
}

// Get the pipeline. Returns false after close.
func (w *WeakRef) Get() (*Pipeline, bool) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()

	if w.p.closed {
		return nil, false
	}
	return w.p, true
}
