package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
)

// Source RCON packet types. Auth responses reuse the exec-command
// value on the wire; direction disambiguates.
const (
	packetResponse     = 0
	packetCommand      = 2
	packetAuthResponse = 2
	packetAuth         = 3
)

// DefaultTimeout bounds the dial and every read/write on the connection
const DefaultTimeout = 10 * time.Second

// maxPayload guards against garbage size prefixes from a confused peer
const maxPayload = 4096

// Client is a minimal Source RCON client, good for one authenticated
// session of a few commands. Not safe for concurrent use.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	nextID  int32
	authed  bool
}

// Dial connects to addr, authenticates with password, and returns a
// ready client. An id of -1 in the auth response means the password
// was rejected.
func Dial(addr, password string) (*Client, error) {
	return DialTimeout(addr, password, DefaultTimeout)
}

// DialTimeout is Dial with an explicit per-operation timeout
func DialTimeout(addr, password string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errdefs.NativeProcess(err, fmt.Sprintf("failed to connect to rcon at %s", addr))
	}

	c := &Client{conn: conn, timeout: timeout, nextID: 1}
	if err := c.authenticate(password); err != nil {
		conn.Close()
		return nil, err
	}
	c.authed = true
	return c, nil
}

func (c *Client) authenticate(password string) error {
	reqID := c.nextID
	c.nextID++

	if err := c.writePacket(reqID, packetAuth, password); err != nil {
		return errdefs.NativeProcess(err, "failed to send rcon auth")
	}

	// Some servers emit an empty response packet ahead of the auth
	// response; skip until the auth response arrives.
	for {
		id, typ, _, err := c.readPacket()
		if err != nil {
			return errdefs.NativeProcess(err, "failed to read rcon auth response")
		}
		if typ != packetAuthResponse {
			continue
		}
		if id == -1 {
			return errdefs.NativeProcess(nil, "rcon authentication rejected")
		}
		if id != reqID {
			return errdefs.NativeProcess(nil, fmt.Sprintf("rcon auth response id mismatch: got %d want %d", id, reqID))
		}
		return nil
	}
}

// Execute sends a command and returns the server's response body.
// A connection closed by the peer after successful authentication is
// treated as success with an empty body: shutdown-style commands often
// take the socket down with the game.
func (c *Client) Execute(command string) (string, error) {
	reqID := c.nextID
	c.nextID++

	if err := c.writePacket(reqID, packetCommand, command); err != nil {
		if c.authed && isClosed(err) {
			return "", nil
		}
		return "", errdefs.NativeProcess(err, "failed to send rcon command")
	}

	for {
		id, typ, payload, err := c.readPacket()
		if err != nil {
			if c.authed && isClosed(err) {
				return "", nil
			}
			return "", errdefs.NativeProcess(err, "failed to read rcon response")
		}
		if typ == packetResponse && id == reqID {
			return payload, nil
		}
	}
}

// Close tears down the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// writePacket frames size|id|type|payload|0|0 in little-endian
func (c *Client) writePacket(id, typ int32, payload string) error {
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}

	size := int32(4 + 4 + len(payload) + 2)
	buf := make([]byte, 0, 4+size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(typ))
	buf = append(buf, payload...)
	buf = append(buf, 0, 0)

	_, err := c.conn.Write(buf)
	return err
}

// readPacket reassembles one frame, tolerating partial reads
func (c *Client) readPacket() (int32, int32, string, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, 0, "", err
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.conn, sizeBuf[:]); err != nil {
		return 0, 0, "", err
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < 10 || size > maxPayload+10 {
		return 0, 0, "", fmt.Errorf("rcon packet size %d out of range", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return 0, 0, "", err
	}

	id := int32(binary.LittleEndian.Uint32(body[0:4]))
	typ := int32(binary.LittleEndian.Uint32(body[4:8]))
	payload := string(body[8 : len(body)-2])
	return id, typ, payload, nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
