// The sniffer command captures session traffic off the wire and prints the
// decoded packets, which is useful for debugging client implementations
// without instrumenting either end of the connection.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

var (
	device = flag.String("d", "en0", "Device on which to listen for packets")
	port   = flag.Int("p", 15000, "Port on which the lobby server is listening")
)

func main() {
	flag.Parse()

	deviceIP := getDeviceIP()
	if deviceIP == "" {
		exit("invalid device: %s", *device)
	}

	handle, err := pcap.OpenLive(*device, math.MaxInt32, false, pcap.BlockForever)
	if err != nil {
		exit("error opening handle: %v", err)
	}
	_ = handle.SetBPFFilter(fmt.Sprintf("tcp and port %d", *port))

	s := &sniffer{
		Writer:     bufio.NewWriter(os.Stdout),
		serverPort: uint16(*port),
	}
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	s.startReading(packetSource.Packets())
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func getDeviceIP() string {
	devs, _ := pcap.FindAllDevs()
	for _, dev := range devs {
		if dev.Name == *device {
			for _, address := range dev.Addresses {
				return address.IP.String()
			}
		}
	}
	return ""
}
