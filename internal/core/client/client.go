package client

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sverick/couchnet/internal/core/bytes"
	"github.com/sverick/couchnet/internal/packets"
)

// Client represents one participant connected to the lobby server.
type Client struct {
	connection *net.TCPConn
	ipAddr     string
	port       string

	// Guards writes; any connection goroutine may broadcast to this client.
	sendMu sync.Mutex

	// Peer id assigned by the authority on handshake. Id 1 is reserved for
	// the authority itself and is never assigned to a connection.
	PeerID uint32

	// Debugging information used for logging purposes.
	Debug     bool
	DebugTags map[string]interface{}
}

func NewClient(connection *net.TCPConn) *Client {
	addr := strings.Split(connection.RemoteAddr().String(), ":")

	return &Client{
		connection: connection,
		ipAddr:     addr[0],
		port:       addr[1],
		DebugTags:  make(map[string]interface{}),
	}
}

func (c *Client) IPAddr() string { return c.ipAddr }
func (c *Client) Port() string   { return c.port }

// Read consumes the available bytes directly from the client's TCP connection.
func (c *Client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// Write directly sends data to the client over its TCP connection.
func (c *Client) Write(b []byte) (int, error) {
	return c.connection.Write(b)
}

// Close the TCP connection.
func (c *Client) Close() error {
	return c.connection.Close()
}

// Send converts a packet struct to bytes, patches the size into its header,
// and writes the complete frame to the client. Frames are written whole, so
// packets to one recipient arrive in send order.
func (c *Client) Send(packet interface{}) error {
	data, length := bytes.BytesFromStruct(packet)
	data, size := adjustPacketLength(data, uint16(length))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transmit(data, size)
}

// transmit writes the contents of data to the TCP connection until the number
// of bytes written >= length.
func (c *Client) transmit(data []byte, length uint16) error {
	bytesSent := 0

	for bytesSent < int(length) {
		b, err := c.Write(data[bytesSent:length])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %s", c.IPAddr(), err.Error())
		}
		bytesSent += b
	}

	return nil
}

// adjustPacketLength pads the length of a packet to a multiple of the header
// length and adjusts the first two bytes of the header to the corrected size
// (may be a no-op).
func adjustPacketLength(data []byte, length uint16) ([]byte, uint16) {
	for length%packets.HeaderSize != 0 {
		length++
		data = append(data, 0)
	}

	data[0] = byte(length & 0xFF)
	data[1] = byte((length & 0xFF00) >> 8)

	return data, length
}
