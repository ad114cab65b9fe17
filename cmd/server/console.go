package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sverick/couchnet/internal"
)

// startConsole reads operator commands from stdin. The hosting participant
// owns the authoritative state machine, so match control lives here rather
// than in any packet handler.
func startConsole(controller *internal.Controller) {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		lobbyServer := controller.LobbyServer()
		if lobbyServer == nil {
			continue
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "start":
			lobbyServer.StartMatch()
		case "end":
			lobbyServer.EndMatch()
		case "members":
			for _, id := range lobbyServer.Directory.Members() {
				participant, ok := lobbyServer.Directory.Participant(id)
				if !ok {
					continue
				}
				fmt.Printf("%d\t%s\tteam %d\n", participant.ID, participant.Name, participant.Team)
			}
		case "help":
			fmt.Println("commands: start, end, members, help")
		default:
			fmt.Println("unknown command; try 'help'")
		}
	}
}
