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

// Package uds receives datagrams on a unix domain socket bound to a path
package uds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrTimeout is returned by ReadPacket when nothing arrived in time
var ErrTimeout = errors.New("timed out waiting for packet")

// Conn is a bound unixgram socket
type Conn struct {
	conn *net.UnixConn
	path string
}

// removeSocket unlinks a socket file at path. Missing path is fine,
// any other kind of file is left alone and reported.
func removeSocket(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%q exists and is not a socket", path)
	}
	return os.Remove(path)
}

// Listen binds a unixgram socket to path, replacing any stale socket left behind
func Listen(path string) (*Conn, error) {
	if err := removeSocket(path); err != nil {
		return nil, fmt.Errorf("removing stale socket %q: %w", path, err)
	}
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", path, err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		conn.Close()
		return nil, err
	}
	log.Debugf("listening on %s", path)
	return &Conn{conn: conn, path: path}, nil
}

// Path returns the path the socket is bound to
func (c *Conn) Path() string {
	return c.path
}

// ReadPacket waits up to timeout for the next datagram and reads it into buf.
// Zero timeout waits forever.
func (c *Conn) ReadPacket(buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, _, err := c.conn.ReadFromUnix(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrTimeout
	}
	return n, err
}

// Close closes the socket and removes its file
func (c *Conn) Close() error {
	err := c.conn.Close()
	if rerr := removeSocket(c.path); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
