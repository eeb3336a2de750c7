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
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockElement struct {
	name string
	run  func(ctx context.Context) error
}

func (e *mockElement) Name() string { return e.name }

func (e *mockElement) Run(ctx context.Context) error {
	if e.run == nil {
		<-ctx.Done()
		return nil
	}
	return e.run(ctx)
}

func nextMessage(t *testing.T, bus *Bus) Message {
	t.Helper()
	select {
	case msg := <-bus.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
		return nil
	}
}

func nextError(t *testing.T, bus *Bus) MessageError {
	t.Helper()
	for {
		if msg, ok := nextMessage(t, bus).(MessageError); ok {
			return msg
		}
	}
}

func TestSetState(t *testing.T) {
	p := New("test")
	require.Equal(t, StateNull, p.State())

	require.NoError(t, p.SetState(StatePlaying))
	require.Equal(t, StatePlaying, p.State())

	expected := []Message{
		MessageStateChanged{Src: "test", Old: StateNull, Current: StateReady},
		MessageStateChanged{Src: "test", Old: StateReady, Current: StatePaused},
		MessageStateChanged{Src: "test", Old: StatePaused, Current: StatePlaying},
	}
	for _, want := range expected {
		require.Equal(t, want, nextMessage(t, p.Bus()))
	}

	require.NoError(t, p.SetState(StateNull))
	require.Equal(t, StateNull, p.State())

	expected = []Message{
		MessageStateChanged{Src: "test", Old: StatePlaying, Current: StatePaused},
		MessageStateChanged{Src: "test", Old: StatePaused, Current: StateReady},
		MessageStateChanged{Src: "test", Old: StateReady, Current: StateNull},
	}
	for _, want := range expected {
		require.Equal(t, want, nextMessage(t, p.Bus()))
	}
}

func TestElements(t *testing.T) {
	t.Run("startStop", func(t *testing.T) {
		started := make(chan struct{})
		stopped := make(chan struct{})
		el := &mockElement{name: "el", run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(stopped)
			return nil
		}}

		p := New("test")
		require.NoError(t, p.Add(el))
		require.NoError(t, p.SetState(StatePlaying))

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("element did not start")
		}

		require.NoError(t, p.SetState(StatePaused))

		select {
		case <-stopped:
		default:
			t.Fatal("element still running after leaving Playing")
		}
	})
	t.Run("addWhilePlaying", func(t *testing.T) {
		p := New("test")
		require.NoError(t, p.SetState(StatePlaying))

		started := make(chan struct{})
		el := &mockElement{name: "late", run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		}}
		require.NoError(t, p.Add(el))

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("late element did not start")
		}

		require.NoError(t, p.Close())
	})
	t.Run("runErr", func(t *testing.T) {
		mockErr := errors.New("mock")
		el := &mockElement{name: "bad", run: func(ctx context.Context) error {
			return mockErr
		}}

		p := New("test")
		require.NoError(t, p.Add(el))
		require.NoError(t, p.SetState(StatePlaying))

		msg := nextError(t, p.Bus())
		require.Equal(t, "bad", msg.Src)
		require.ErrorIs(t, msg.Err, mockErr)
		require.NotEmpty(t, msg.Debug)

		require.NoError(t, p.Close())
	})
}

func TestSinkEOS(t *testing.T) {
	noMessage := func(t *testing.T, bus *Bus) {
		t.Helper()
		select {
		case msg := <-bus.Messages():
			t.Fatalf("unexpected message: %v", msg)
		default:
		}
	}

	p := New("test")
	p.RegisterSink("a")
	p.RegisterSink("b")

	p.SinkEOS("a")
	noMessage(t, p.Bus())

	// Unregistered sinks are ignored.
	p.SinkEOS("x")
	noMessage(t, p.Bus())

	p.SinkEOS("b")
	require.Equal(t, MessageEOS{Src: "test"}, nextMessage(t, p.Bus()))

	p.SinkEOS("b")
	noMessage(t, p.Bus())
}

func TestWeakRef(t *testing.T) {
	p := New("test")
	ref := p.WeakRef()

	p2, ok := ref.Get()
	require.True(t, ok)
	require.Same(t, p, p2)

	require.NoError(t, p.Close())

	_, ok = ref.Get()
	require.False(t, ok)

	require.ErrorIs(t, p.Add(&mockElement{name: "el"}), ErrPipelineClosed)
	require.ErrorIs(t, p.SetState(StatePlaying), ErrPipelineClosed)

	// Close is idempotent.
	require.NoError(t, p.Close())
}

func TestBusOverflow(t *testing.T) {
	bus := newBus()

	n := busSize + 8
	for i := 0; i < n; i++ {
		bus.Post(MessageEOS{Src: strconv.Itoa(i)})
	}

	for i := 0; i < n; i++ {
		select {
		case <-bus.Messages():
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %v of %v messages", i, n)
		}
	}
}
