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

package log

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return "unknown"
}

// LevelFromString parses a level by name, as used in the env config.
func LevelFromString(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return LevelError, nil
	case "warning":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("unknown log level: %v", name)
}

// UnixMicro Unix time in microseconds.
type UnixMicro uint64

// Entry defines a log entry.
type Entry struct {
	Level   Level
	Time    UnixMicro
	Src     string // Source subsystem.
	Element string // Pipeline element the entry is scoped to.
	Msg     string // Message.
}

// ILogger allows the logger to be mocked.
type ILogger interface {
	Log(Entry)
}

// Feed defines a feed of log entries.
type Feed <-chan Entry
type feed chan Entry

// Logger is the shared logger. Entries are fanned out to
// subscribers by the service goroutine started with Start.
type Logger struct {
	feed  feed      // feed of log entries.
	sub   chan feed // subscribe requests.
	unsub chan feed // unsubscribe requests.

	minLevel Level
	wg       *sync.WaitGroup

	// Ctx is canceled when the logger stops. Long-lived
	// subscribers select on it to terminate cleanly.
	Ctx context.Context
}

// NewLogger returns a logger that drops entries with a level
// beyond minLevel.
func NewLogger(minLevel Level, wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(feed),
		sub:   make(chan feed),
		unsub: make(chan feed),

		minLevel: minLevel,
		wg:       wg,
		Ctx:      context.Background(),
	}
}

// NewMockLogger used for testing.
func NewMockLogger() *Logger {
	return &Logger{
		feed:  make(feed),
		sub:   make(chan feed),
		unsub: make(chan feed),

		minLevel: LevelDebug,
		wg:       &sync.WaitGroup{},
		Ctx:      context.Background(),
	}
}

// Log sends the entry to the feed. The time is stamped if unset.
// Start must be running or the call will block.
func (l *Logger) Log(e Entry) {
	if e.Level > l.minLevel {
		return
	}
	if e.Time == 0 {
		e.Time = UnixMicro(time.Now().UnixMicro())
	}
	l.feed <- e
}

// Start the service goroutine.
func (l *Logger) Start(ctx context.Context) {
	l.Ctx = ctx
	l.wg.Add(1)
	go func() {
		subs := map[feed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				l.wg.Done()
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case e := <-l.feed:
				for ch := range subs {
					ch <- e
				}
			}
		}
	}()
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a new feed of log entries and a CancelFunc.
func (l *Logger) Subscribe() (Feed, CancelFunc) {
	ch := make(feed)
	l.sub <- ch

	cancel := func() {
		l.unSubscribe(ch)
	}
	return (chan Entry)(ch), cancel
}

func (l *Logger) unSubscribe(ch feed) {
	// Read feed until the unsub request is accepted.
	for {
		select {
		case l.unsub <- ch:
			return
		case <-ch:
		}
	}
}

// LogToStdout prints the log feed to stdout until ctx is canceled.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case e := <-feed:
			printEntry(e)
		case <-ctx.Done():
			return
		}
	}
}

func printEntry(e Entry) {
	fmt.Println(formatEntry(e))
}

func formatEntry(e Entry) string {
	var output string

	switch e.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if e.Element != "" {
		output += e.Element + ": "
	}
	if e.Src != "" {
		output += strings.Title(e.Src) + ": "
	}

	output += e.Msg
	return output
}

// Func registers the source and element once and logs
// formatted messages through it.
type Func func(level Level, format string, a ...interface{})

// NewFunc returns a Func bound to src.
func NewFunc(logger ILogger, src string, element string) Func {
	return func(level Level, format string, a ...interface{}) {
		logger.Log(Entry{
			Level:   level,
			Src:     src,
			Element: element,
			Msg:     fmt.Sprintf(format, a...),
		})
	}
}
