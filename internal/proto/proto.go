// Package proto speaks the memcached text protocol over one TCP connection.
//
// A Conn is not safe for concurrent use; the pool leases each Conn to one
// request at a time. IO failures mark the Conn broken so the pool drops it
// instead of returning it to the free set; protocol-level refusals
// (NOT_STORED, EXISTS, NOT_FOUND) are plain results and leave the
// connection healthy.
package proto

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var (
	// ErrNotFound: the key does not exist (delete/incr/decr/cas).
	ErrNotFound = errors.New("memcache: key not found")

	// ErrNotStored: add refused because the key exists.
	ErrNotStored = errors.New("memcache: not stored")

	// ErrCASConflict: the change identifier moved under a cas store.
	ErrCASConflict = errors.New("memcache: cas conflict")

	// ErrBadKey: key is empty, too long, or contains whitespace/control bytes.
	ErrBadKey = errors.New("memcache: invalid key")
)

// ServerError is a SERVER_ERROR reply; the request failed server-side but
// the connection stays usable.
type ServerError struct{ Msg string }

func (e *ServerError) Error() string { return "memcache: server error: " + e.Msg }

// ProtocolError is a reply this client cannot parse. The connection state
// is unknown after one of these, so the Conn is marked broken.
type ProtocolError struct{ Line string }

func (e *ProtocolError) Error() string { return "memcache: protocol error: " + e.Line }

const maxKeyLen = 250

var crlf = []byte("\r\n")

type Conn struct {
	nc     net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	broken bool
}

// Dial opens a connection to a memcached server.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc), nil
}

// NewConn wraps an established transport connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		r:  bufio.NewReader(nc),
		w:  bufio.NewWriter(nc),
	}
}

// Broken reports whether the transport is known dead or desynced.
func (c *Conn) Broken() bool { return c.broken }

func (c *Conn) Close() error { return c.nc.Close() }

func (c *Conn) fatal(err error) error {
	c.broken = true
	return err
}

func legalKey(key string) bool {
	if len(key) == 0 || len(key) > maxKeyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// exptime converts a TTL to the protocol's expiry field: seconds when under
// 30 days, absolute unix time beyond that, 0 for no expiry.
func exptime(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if secs == 0 {
		secs = 1
	}
	if secs > 60*60*24*30 {
		return time.Now().Unix() + secs
	}
	return secs
}

func (c *Conn) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		return nil, c.fatal(err)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, c.fatal(&ProtocolError{Line: string(line)})
	}
	return line[:len(line)-2], nil
}

// replyError classifies ERROR / CLIENT_ERROR / SERVER_ERROR lines; other
// lines fall through to the caller.
func (c *Conn) replyError(line []byte) error {
	switch {
	case bytes.Equal(line, []byte("ERROR")):
		return c.fatal(&ProtocolError{Line: "ERROR"})
	case bytes.HasPrefix(line, []byte("CLIENT_ERROR ")):
		// client errors desync badly (e.g. bad data chunk); drop the conn
		return c.fatal(&ProtocolError{Line: string(line)})
	case bytes.HasPrefix(line, []byte("SERVER_ERROR ")):
		return &ServerError{Msg: string(line[len("SERVER_ERROR "):])}
	}
	return nil
}

// Item is one value returned by Get or Gets.
type Item struct {
	Key   string
	Flags uint32
	CASID uint64
	Value []byte
}

func (c *Conn) retrieve(verb, key string) (*Item, error) {
	if !legalKey(key) {
		return nil, ErrBadKey
	}
	if _, err := fmt.Fprintf(c.w, "%s %s\r\n", verb, key); err != nil {
		return nil, c.fatal(err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.fatal(err)
	}

	var it *Item
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(line, []byte("END")) {
			return it, nil
		}
		if err := c.replyError(line); err != nil {
			return nil, err
		}
		fields := bytes.Fields(line)
		if len(fields) < 4 || !bytes.Equal(fields[0], []byte("VALUE")) {
			return nil, c.fatal(&ProtocolError{Line: string(line)})
		}
		flags, err1 := strconv.ParseUint(string(fields[2]), 10, 32)
		size, err2 := strconv.ParseUint(string(fields[3]), 10, 31)
		if err1 != nil || err2 != nil {
			return nil, c.fatal(&ProtocolError{Line: string(line)})
		}
		var casid uint64
		if len(fields) >= 5 {
			if casid, err = strconv.ParseUint(string(fields[4]), 10, 64); err != nil {
				return nil, c.fatal(&ProtocolError{Line: string(line)})
			}
		}
		buf := make([]byte, size+2)
		if _, err := readFull(c.r, buf); err != nil {
			return nil, c.fatal(err)
		}
		if !bytes.HasSuffix(buf, crlf) {
			return nil, c.fatal(&ProtocolError{Line: "data chunk missing CRLF"})
		}
		it = &Item{
			Key:   string(fields[1]),
			Flags: uint32(flags),
			CASID: casid,
			Value: buf[:size],
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Get fetches a key. A miss returns (nil, nil).
func (c *Conn) Get(key string) (*Item, error) {
	return c.retrieve("get", key)
}

// Gets fetches a key along with its change identifier.
func (c *Conn) Gets(key string) (*Item, error) {
	return c.retrieve("gets", key)
}

func (c *Conn) store(verb, key string, flags uint32, ttl time.Duration, casid uint64, value []byte) error {
	if !legalKey(key) {
		return ErrBadKey
	}
	var err error
	if verb == "cas" {
		_, err = fmt.Fprintf(c.w, "cas %s %d %d %d %d\r\n", key, flags, exptime(ttl), len(value), casid)
	} else {
		_, err = fmt.Fprintf(c.w, "%s %s %d %d %d\r\n", verb, key, flags, exptime(ttl), len(value))
	}
	if err != nil {
		return c.fatal(err)
	}
	if _, err = c.w.Write(value); err != nil {
		return c.fatal(err)
	}
	if _, err = c.w.Write(crlf); err != nil {
		return c.fatal(err)
	}
	if err = c.w.Flush(); err != nil {
		return c.fatal(err)
	}

	line, err := c.readLine()
	if err != nil {
		return err
	}
	switch {
	case bytes.Equal(line, []byte("STORED")):
		return nil
	case bytes.Equal(line, []byte("NOT_STORED")):
		return ErrNotStored
	case bytes.Equal(line, []byte("EXISTS")):
		return ErrCASConflict
	case bytes.Equal(line, []byte("NOT_FOUND")):
		return ErrNotFound
	}
	if err := c.replyError(line); err != nil {
		return err
	}
	return c.fatal(&ProtocolError{Line: string(line)})
}

func (c *Conn) Set(key string, flags uint32, ttl time.Duration, value []byte) error {
	return c.store("set", key, flags, ttl, 0, value)
}

func (c *Conn) Add(key string, flags uint32, ttl time.Duration, value []byte) error {
	return c.store("add", key, flags, ttl, 0, value)
}

func (c *Conn) CAS(key string, flags uint32, ttl time.Duration, casid uint64, value []byte) error {
	return c.store("cas", key, flags, ttl, casid, value)
}

func (c *Conn) Delete(key string) error {
	if !legalKey(key) {
		return ErrBadKey
	}
	if _, err := fmt.Fprintf(c.w, "delete %s\r\n", key); err != nil {
		return c.fatal(err)
	}
	if err := c.w.Flush(); err != nil {
		return c.fatal(err)
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	switch {
	case bytes.Equal(line, []byte("DELETED")):
		return nil
	case bytes.Equal(line, []byte("NOT_FOUND")):
		return ErrNotFound
	}
	if err := c.replyError(line); err != nil {
		return err
	}
	return c.fatal(&ProtocolError{Line: string(line)})
}

func (c *Conn) Incr(key string, delta uint64) (uint64, error) {
	return c.arith("incr", key, delta)
}

func (c *Conn) Decr(key string, delta uint64) (uint64, error) {
	return c.arith("decr", key, delta)
}

func (c *Conn) arith(verb, key string, delta uint64) (uint64, error) {
	if !legalKey(key) {
		return 0, ErrBadKey
	}
	if _, err := fmt.Fprintf(c.w, "%s %s %d\r\n", verb, key, delta); err != nil {
		return 0, c.fatal(err)
	}
	if err := c.w.Flush(); err != nil {
		return 0, c.fatal(err)
	}
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	if bytes.Equal(line, []byte("NOT_FOUND")) {
		return 0, ErrNotFound
	}
	if err := c.replyError(line); err != nil {
		return 0, err
	}
	// decr replies can carry trailing space padding
	n, perr := strconv.ParseUint(string(bytes.TrimSpace(line)), 10, 64)
	if perr != nil {
		return 0, c.fatal(&ProtocolError{Line: string(line)})
	}
	return n, nil
}

func (c *Conn) FlushAll() error {
	if _, err := c.w.WriteString("flush_all\r\n"); err != nil {
		return c.fatal(err)
	}
	if err := c.w.Flush(); err != nil {
		return c.fatal(err)
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if bytes.Equal(line, []byte("OK")) {
		return nil
	}
	if err := c.replyError(line); err != nil {
		return err
	}
	return c.fatal(&ProtocolError{Line: string(line)})
}
