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

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"klvsync/pkg/log"
	"klvsync/pkg/system"
)

func TestParseCSVParam(t *testing.T) {
	cases := []struct {
		input  string
		output []string
	}{
		{"", nil},
		{"a,b,c", []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			query := url.Values{}
			query.Add("test", tc.input)
			actual := parseCSVParam(query, "test")
			require.Equal(t, tc.output, actual)
		})
	}
}

func TestParseLevelsParam(t *testing.T) {
	cases := []struct {
		input  string
		output []log.Level
		expErr bool
	}{
		{"", nil, false},
		{"16,24", []log.Level{log.LevelError, log.LevelWarning}, false},
		{"nil", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			query := url.Values{}
			query.Add("levels", tc.input)
			actual, err := parseLevelsParam(query)
			if tc.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.output, actual)
		})
	}
}

func newTestLogger(t *testing.T) *log.Logger {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.NewMockLogger()
	logger.Start(ctx)
	return logger
}

func TestLogFeed(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		logger := newTestLogger(t)

		server := httptest.NewServer(LogFeed(logger))
		defer server.Close()

		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
			"?levels=16&sources=app&elements=x"
		conn, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer response.Body.Close()
		defer conn.Close()

		match := log.Entry{
			Level:   log.LevelError,
			Time:    1234,
			Src:     "app",
			Element: "x",
			Msg:     "a",
		}
		noMatch := log.Entry{
			Level:   log.LevelDebug,
			Time:    1234,
			Src:     "app",
			Element: "x",
			Msg:     "b",
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case <-done:
					return
				default:
				}
				logger.Log(noMatch)
				logger.Log(match)
			}
		}()

		var entry log.Entry
		require.NoError(t, conn.ReadJSON(&entry))
		require.Equal(t, match, entry)
	})
	t.Run("methodErr", func(t *testing.T) {
		logger := newTestLogger(t)

		r := httptest.NewRequest(http.MethodPost, "/api/logs", nil)
		w := httptest.NewRecorder()
		LogFeed(logger).ServeHTTP(w, r)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
	t.Run("levelsErr", func(t *testing.T) {
		logger := newTestLogger(t)

		r := httptest.NewRequest(http.MethodGet, "/api/logs?levels=nil", nil)
		w := httptest.NewRecorder()
		LogFeed(logger).ServeHTTP(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func newTestDB(t *testing.T, logger *log.Logger) *log.DB {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	wg := &sync.WaitGroup{}
	logDB := log.NewDB(filepath.Join(t.TempDir(), "logs.db"), wg)
	require.NoError(t, logDB.Init(ctx))
	go logDB.SaveEntries(ctx, logger)

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return logDB
}

func TestLogQuery(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		logger := newTestLogger(t)
		logDB := newTestDB(t, logger)

		entry := log.Entry{
			Level:   log.LevelError,
			Time:    4000,
			Src:     "s1",
			Element: "e1",
			Msg:     "a",
		}

		query := "limit=1&time=5000&levels=16&sources=s1&elements=e1"
		require.Eventually(t, func() bool {
			// Entries logged before the save service subscribes
			// are dropped, so keep logging until one is stored.
			logger.Log(entry)

			r := httptest.NewRequest(http.MethodGet, "/api/logs/query?"+query, nil)
			w := httptest.NewRecorder()
			LogQuery(logDB).ServeHTTP(w, r)
			if w.Code != http.StatusOK {
				return false
			}

			var entries []log.Entry
			if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
				return false
			}
			return len(entries) == 1 && entries[0] == entry
		}, 2*time.Second, 10*time.Millisecond)
	})
	t.Run("errors", func(t *testing.T) {
		logger := newTestLogger(t)
		logDB := newTestDB(t, logger)

		cases := []struct {
			name   string
			method string
			query  string
			status int
		}{
			{"methodErr", http.MethodPost, "limit=1&time=5000", http.StatusMethodNotAllowed},
			{"limitMissing", http.MethodGet, "time=5000", http.StatusBadRequest},
			{"limitErr", http.MethodGet, "limit=nil&time=5000", http.StatusBadRequest},
			{"timeMissing", http.MethodGet, "limit=1", http.StatusBadRequest},
			{"timeErr", http.MethodGet, "limit=1&time=nil", http.StatusBadRequest},
			{"levelsErr", http.MethodGet, "limit=1&time=5000&levels=nil", http.StatusBadRequest},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				r := httptest.NewRequest(tc.method, "/api/logs/query?"+tc.query, nil)
				w := httptest.NewRecorder()
				LogQuery(logDB).ServeHTTP(w, r)
				require.Equal(t, tc.status, w.Code)
			})
		}
	})
}

type stubStatus struct {
	status system.Status
}

func (s stubStatus) Status() system.Status {
	return s.status
}

func TestSystemStatus(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		status := system.Status{
			CPUUsage:      11,
			RAMUsage:      22,
			PipelineState: "PLAYING",
		}

		r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		w := httptest.NewRecorder()
		SystemStatus(stubStatus{status}).ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, jsonContentType, w.Header().Get("Content-Type"))

		var actual system.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actual))
		require.Equal(t, status, actual)
	})
	t.Run("methodErr", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodDelete, "/api/status", nil)
		w := httptest.NewRecorder()
		SystemStatus(stubStatus{}).ServeHTTP(w, r)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
