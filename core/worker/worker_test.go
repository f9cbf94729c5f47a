// worker_test.go - Background worker task tests.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var w Worker
	var n int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			atomic.AddInt32(&n, 1)
		})
	}
	require.False(w.IsHalted())
	w.Halt()
	require.True(w.IsHalted())
	require.Equal(int32(4), atomic.LoadInt32(&n))

	// Halting twice is harmless.
	w.Halt()
}

func TestWorkerSleep(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var w Worker
	require.True(w.Sleep(time.Millisecond))

	done := make(chan bool)
	w.Go(func() {
		done <- w.Sleep(time.Hour)
	})
	go w.Halt()
	require.False(<-done)
}
