package internal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sverick/couchnet/internal/core"
	"github.com/sverick/couchnet/internal/core/client"
	coredebug "github.com/sverick/couchnet/internal/core/debug"
	"github.com/sverick/couchnet/internal/packets"
)

// frontend implements the concurrent client connection logic.
//
// Data is read from any connected clients and passed to a backend instance,
// abstracting the lower level connection details away from the Backends.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *logrus.Logger

	mu               sync.Mutex
	connectedClients map[string]*client.Client
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	f.connectedClients = make(map[string]*client.Client)

	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %v", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %v", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s", err.Error())
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %s", err.Error())
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Printf("[%s] waiting for connections on %v", f.Backend.Identifier(), f.Address)

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			// Poll until we can accept more clients.
			for f.clientCount() > f.Config.MaxConnections {
				time.Sleep(10 * time.Second)
			}

			connection, err := socket.AcceptTCP()
			if err != nil {
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			connections <- connection
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			clientWg.Add(1)
			// Note: If there is eventually a need to implement worker pooling rather than spawning
			// new goroutines for each client, this is where it should be implemented.
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

func (f *frontend) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connectedClients)
}

// acceptClient takes a connection and attempts to initiate a "session" by setting up
// the Client and sending the welcome packet. If it succeeds, the goroutine moves
// into the packet processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	c := client.NewClient(connection)
	f.Backend.SetUpClient(c)
	c.Debug = f.Config.Debugging.PacketLoggingEnabled

	f.Logger.Infof("[%s] accepted connection from %s", f.Backend.Identifier(), c.IPAddr())

	if err := f.Backend.Handshake(c); err != nil {
		f.Logger.Errorf("Handshake() failed for client %s: %s", c.IPAddr(), err)
	}

	addr := c.IPAddr() + ":" + c.Port()
	f.mu.Lock()
	f.connectedClients[addr] = c
	f.mu.Unlock()

	f.processPackets(ctx, c, addr)
}

// processPackets starts a blocking loop dedicated to reading data sent from
// a game client and only returns once the connection has closed.
func (f *frontend) processPackets(ctx context.Context, c *client.Client, addr string) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), c, addr)

	buffer := make([]byte, 2048)
	var err error

	for {
		select {
		case <-ctx.Done():
			// For now just allow the deferred function to close the connection.
			return
		default:
		}

		buffer, err = f.readNextPacket(c, buffer)

		if err == io.EOF {
			break
		} else if err != nil {
			f.Logger.Warn(err.Error())
			break
		}

		if f.Config.Debugging.PacketLoggingEnabled {
			coredebug.PrintPacket(coredebug.PrintPacketParams{
				Writer:       bufio.NewWriter(os.Stdout),
				ClientPacket: true,
				Data:         buffer[:f.determinePacketSize(buffer[:2])],
			})
		}

		if err = f.Backend.Handle(ctx, c, buffer); err != nil {
			f.Logger.Warn("error in client communication: " + err.Error())
			return
		}
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and removes them from the list regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, c *client.Client, addr string) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	if err := c.Close(); err != nil {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.mu.Lock()
	delete(f.connectedClients, addr)
	f.mu.Unlock()

	f.Backend.Disconnected(c)

	f.Logger.Infof("[%s] disconnected client %s", serverName, c.IPAddr())
}

// readNextPacket is a blocking call that only returns once the client has
// sent the next packet to be processed.
func (f *frontend) readNextPacket(c *client.Client, buffer []byte) ([]byte, error) {
	// Read the packet header.
	if err := f.readDataFromClient(c, packets.HeaderSize, buffer); err != nil {
		return buffer, err
	}

	packetSize := f.determinePacketSize(buffer[:2])

	// Grow the client's receive buffer if they send us a packet bigger than its current capacity.
	if packetSize > cap(buffer) {
		newBuf := make([]byte, cap(buffer)+packetSize)
		copy(newBuf, buffer)
		buffer = newBuf
	}

	// Read the rest of the packet.
	if err := f.readDataFromClient(c, packetSize-packets.HeaderSize, buffer[packets.HeaderSize:]); err != nil {
		return buffer, err
	}

	return buffer, nil
}

func (f *frontend) readDataFromClient(c *client.Client, n int, buffer []byte) error {
	received := 0

	for received < n {
		bytesRead, err := c.Read(buffer[received:n])
		received += bytesRead

		if bytesRead == 0 || err == io.EOF {
			return io.EOF
		} else if err != nil {
			return errors.New("socket error (" + c.IPAddr() + ") " + err.Error())
		}
	}

	return nil
}

// Extract the packet length from the first two bytes of data.
func (f *frontend) determinePacketSize(data []byte) int {
	if len(data) < 2 {
		// Panic since this shouldn't happen unless something's very wrong.
		panic(errors.New("determinePacketSize(): data must be at least two bytes"))
	}

	var size uint16
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &size)

	if err != nil {
		f.Logger.Warn("error decoding packet size:", err)
	}

	// Clients pad packets to a multiple of the header length. Adjust the
	// expected length just in case in order to avoid leaving stray bytes in the buffer.
	size += size % packets.HeaderSize

	return int(size)
}
