// Debugging utilities for inspecting live server behavior.
package debug

import (
	"bufio"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/sirupsen/logrus"
)

// StartUtilities spins off the services associated with debug mode.
func StartUtilities(logger *logrus.Logger, pprofPort int) {
	startPprofServer(logger, pprofPort)
}

// startPprofServer starts the default pprof HTTP server that can be accessed via
// localhost to get runtime information about the server.
// See https://golang.org/pkg/net/http/pprof/
func startPprofServer(logger *logrus.Logger, pprofPort int) {
	listenerAddr := fmt.Sprintf("localhost:%d", pprofPort)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

// PrintPacketParams capture the state needed to print one packet.
type PrintPacketParams struct {
	Writer       *bufio.Writer
	ClientPacket bool
	Data         []byte
}

// PrintPacket writes a decoded representation of the packet in data followed
// by a hex/ascii dump of its full contents.
func PrintPacket(params PrintPacketParams) {
	direction := "server->client"
	if params.ClientPacket {
		direction = "client->server"
	}

	name, decoded := decodePacket(params.Data, params.ClientPacket)
	fmt.Fprintf(params.Writer, "[%s] %s\n", direction, name)
	if decoded != "" {
		fmt.Fprint(params.Writer, decoded)
	}

	printPayload(params.Writer, params.Data)
	fmt.Fprintln(params.Writer)
	_ = params.Writer.Flush()
}

func printPayload(w *bufio.Writer, data []byte) {
	for rem, offset := len(data), 0; rem > 0; rem -= 16 {
		if rem < 16 {
			printPacketLine(w, data[(len(data)-rem):len(data)], rem, offset)
		} else {
			printPacketLine(w, data[offset:offset+16], 16, offset)
		}
		offset += 16
	}
}

func printPacketLine(w *bufio.Writer, data []byte, length, offset int) {
	fmt.Fprintf(w, "(%04X) ", offset)

	// Print our bytes.
	for i, j := 0, 0; i < length; i++ {
		if j == 8 {
			// Visual aid - spacing between groups of 8 bytes.
			j = 0
			fmt.Fprint(w, "  ")
		}
		fmt.Fprintf(w, "%02x ", data[i])
		j++
	}

	// Fill in rest of the line gap if we don't have enough bytes.
	for i := length; i < 16; i++ {
		if i == 8 {
			fmt.Fprint(w, "  ")
		}
		fmt.Fprint(w, "   ")
	}
	fmt.Fprint(w, "    ")

	// Print the corresponding ASCII values.
	for i := 0; i < length; i++ {
		if data[i] >= 0x20 && data[i] < 0x7E {
			fmt.Fprint(w, string(data[i]))
		} else {
			fmt.Fprint(w, ".")
		}
	}
	fmt.Fprintln(w)
}
