package main

import (
	"bufio"
	"encoding/binary"

	"github.com/google/gopacket"

	"github.com/sverick/couchnet/internal/core/bytes"
	"github.com/sverick/couchnet/internal/core/debug"
	"github.com/sverick/couchnet/internal/packets"
)

// direction tracks the reassembly state for one side of the conversation,
// since client and server payloads interleave within the capture.
type direction struct {
	currentPacketSize uint16
	bufferBytesRead   uint16
	buffer            []byte
}

type sniffer struct {
	Writer *bufio.Writer

	serverPort uint16
	client     direction
	server     direction
}

func (s *sniffer) startReading(packetChan chan gopacket.Packet) {
	s.client.buffer = make([]byte, 100000)
	s.server.buffer = make([]byte, 100000)

	for packet := range packetChan {
		transport := packet.TransportLayer()
		if transport == nil || packet.ApplicationLayer() == nil {
			continue
		}
		flow := transport.TransportFlow()
		dstPort := binary.BigEndian.Uint16(flow.Dst().Raw())
		data := packet.ApplicationLayer().Payload()

		clientPacket := dstPort == s.serverPort
		s.handlePacket(clientPacket, data)
	}
}

func (s *sniffer) handlePacket(clientPacket bool, data []byte) {
	d := &s.server
	if clientPacket {
		d = &s.client
	}

	// Copy the data we just got into the working slice for the current packet.
	d.bufferBytesRead += uint16(copy(d.buffer[d.bufferBytesRead:], data))

	// If we're expecting a new packet, peek at the header to find its size.
	if d.currentPacketSize == 0 {
		if d.bufferBytesRead < packets.HeaderSize {
			return
		}
		var header packets.Header
		bytes.StructFromBytes(d.buffer[:packets.HeaderSize], &header)
		d.currentPacketSize = header.Size
		// Like we do elsewhere in the server, make sure we're reading packet
		// lengths that are multiples of the header size. Sometimes the client
		// messes up the size.
		if d.currentPacketSize%packets.HeaderSize != 0 {
			d.currentPacketSize += packets.HeaderSize - (d.currentPacketSize % packets.HeaderSize)
		}
	}

	if d.bufferBytesRead < d.currentPacketSize {
		return
	}

	debug.PrintPacket(debug.PrintPacketParams{
		Writer:       s.Writer,
		ClientPacket: clientPacket,
		Data:         d.buffer[:d.currentPacketSize],
	})

	// Sometimes multiple payloads might be sent as part of the same packet. To
	// account for this, recursively call handlePacket with the remaining bytes
	// we read and process it as if it were a new block of data.
	packetSize := d.currentPacketSize
	bufferLength := d.bufferBytesRead
	d.currentPacketSize = 0
	d.bufferBytesRead = 0

	if bufferLength > packetSize {
		s.handlePacket(clientPacket, d.buffer[packetSize:bufferLength])
	}
}
