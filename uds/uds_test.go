/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package uds

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadPacket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor")
	c, err := Listen(path)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, path, c.Path())

	client, err := net.Dial("unixgram", path)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := c.ReadPacket(buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestReadPacketTimeout(t *testing.T) {
	c, err := Listen(filepath.Join(t.TempDir(), "monitor"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ReadPacket(make([]byte, 64), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor")
	// closing a unixgram socket leaves its file behind
	stale, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	require.NoError(t, stale.Close())
	_, err = os.Lstat(path)
	require.NoError(t, err)

	c, err := Listen(path)
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.ModeSocket, fi.Mode().Type())

	require.NoError(t, c.Close())
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestListenKeepsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "important")
	require.NoError(t, os.Mkdir(dir, 0o755))
	data := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(data, []byte("keep me"), 0o600))

	_, err := Listen(dir)
	require.Error(t, err)
	b, err := os.ReadFile(data)
	require.NoError(t, err)
	require.Equal(t, "keep me", string(b))
}

func TestListenKeepsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor")
	require.NoError(t, os.WriteFile(path, []byte("config"), 0o600))

	_, err := Listen(path)
	require.Error(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "config", string(b))
}

func TestCloseToleratesMissingSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor")
	c, err := Listen(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))
	require.NoError(t, c.Close())
}
