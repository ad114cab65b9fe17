package debug

import (
	"encoding/binary"

	"github.com/davecgh/go-spew/spew"

	"github.com/sverick/couchnet/internal/core/bytes"
	"github.com/sverick/couchnet/internal/packets"
)

// Simple method of associating packet types with their implementations.
// Whenever new packet types are defined they must also be added here in order
// for the sniffer and packet logger to decode them.
var serverPacketTypes = map[uint16]func(data []byte) interface{}{
	packets.DisconnectType:    func(data []byte) interface{} { return decodeFixed(data, &packets.Header{}) },
	packets.WelcomeType:       func(data []byte) interface{} { return decodeFixed(data, &packets.Welcome{}) },
	packets.GotoSceneType:     func(data []byte) interface{} { return decodeFixed(data, &packets.GotoScene{}) },
	packets.SyncGameStateType: func(data []byte) interface{} { return decodeFixed(data, &packets.SyncGameState{}) },
	packets.StartMatchType:    func(data []byte) interface{} { return decodeFixed(data, &packets.StartMatch{}) },
	packets.SpawnPlayersType:  decodeSpawnPlayers,
	packets.MemberUpdateType:  decodeMemberUpdate,
	packets.SetDisplayNameType: func(data []byte) interface{} {
		return decodeFixed(data, &packets.SetDisplayName{})
	},
}

var clientPacketTypes = map[uint16]func(data []byte) interface{}{
	packets.DisconnectType:        func(data []byte) interface{} { return decodeFixed(data, &packets.Header{}) },
	packets.PlayerSpawnedAckType:  func(data []byte) interface{} { return decodeFixed(data, &packets.PlayerSpawnedAck{}) },
	packets.NotifyClientReadyType: func(data []byte) interface{} { return decodeFixed(data, &packets.NotifyClientReady{}) },
	packets.SetDisplayNameType: func(data []byte) interface{} {
		return decodeFixed(data, &packets.SetDisplayName{})
	},
}

var packetNames = map[uint16]string{
	packets.DisconnectType:        "Disconnect",
	packets.WelcomeType:           "Welcome",
	packets.GotoSceneType:         "GotoScene",
	packets.SyncGameStateType:     "SyncGameState",
	packets.StartMatchType:        "StartMatch",
	packets.SpawnPlayersType:      "SpawnPlayers",
	packets.PlayerSpawnedAckType:  "PlayerSpawnedAck",
	packets.NotifyClientReadyType: "NotifyClientReady",
	packets.SetDisplayNameType:    "SetDisplayName",
	packets.MemberUpdateType:      "MemberUpdate",
}

func decodeFixed(data []byte, target interface{}) interface{} {
	bytes.StructFromBytes(data, target)
	return target
}

func decodeSpawnPlayers(data []byte) interface{} {
	var header packets.Header
	bytes.StructFromBytes(data[:packets.HeaderSize], &header)

	pkt := &packets.SpawnPlayers{Entries: make([]packets.SpawnEntry, header.Flags)}
	bytes.StructFromBytes(data[:packets.HeaderSize+16*int(header.Flags)], pkt)
	return pkt
}

func decodeMemberUpdate(data []byte) interface{} {
	var header packets.Header
	bytes.StructFromBytes(data[:packets.HeaderSize], &header)

	pkt := &packets.MemberUpdate{Members: make([]packets.Member, header.Flags)}
	bytes.StructFromBytes(data[:packets.HeaderSize+32*int(header.Flags)], pkt)
	return pkt
}

// decodePacket returns the name of the packet in data along with a dump of its
// decoded fields, or an empty dump if the type isn't recognized.
func decodePacket(data []byte, clientPacket bool) (string, string) {
	if len(data) < packets.HeaderSize {
		return "UNKNOWN", ""
	}
	packetType := binary.LittleEndian.Uint16(data[2:4])

	name, ok := packetNames[packetType]
	if !ok {
		name = "UNKNOWN"
	}

	typeMap := serverPacketTypes
	if clientPacket {
		typeMap = clientPacketTypes
	}

	decoder, ok := typeMap[packetType]
	if !ok {
		return name, ""
	}
	return name, spew.Sdump(decoder(data))
}
