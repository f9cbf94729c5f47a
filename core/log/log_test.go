// log_test.go - Logging backend tests.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	lvl, err := ParseLevel("debug")
	require.NoError(err)
	require.Equal(logging.DEBUG, lvl)

	lvl, err = ParseLevel("NOTICE")
	require.NoError(err)
	require.Equal(logging.NOTICE, lvl)

	_, err = ParseLevel("LOUD")
	require.Error(err)
}

func TestFileBackend(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "relay.log")
	b, err := New(f, "INFO", false)
	require.NoError(err)

	l := b.GetLogger("relay/test")
	l.Noticef("processed %d packets", 3)
	l.Debugf("not written")
	fmt.Fprintln(b.GetLogWriter("relay/writer", "WARNING"), "from a writer")
	require.NoError(b.Rotate())
	l.Notice("after rotate")

	body, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(body), "relay/test: processed 3 packets")
	require.Contains(string(body), "relay/writer: from a writer")
	require.Contains(string(body), "after rotate")
	require.NotContains(string(body), "not written")
}

func TestDiscardBackend(t *testing.T) {
	t.Parallel()

	b := NewDiscard()
	b.GetLogger("discard").Error("dropped on the floor")
}
