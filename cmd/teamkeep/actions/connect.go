package actions

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/piprate/teamkeep/internal/events"
	"github.com/piprate/teamkeep/transport/wsconn"
	"github.com/urfave/cli/v2"
)

// ConnectCommand dials a relay room and opens a connection protocol session
// to whoever else is waiting in it, then prints connection events (spec.md
// §9) to stdout until interrupted.
func ConnectCommand(c *cli.Context) error {
	teamName, err := requireString(c, "team")
	if err != nil {
		return err
	}
	relayURL, err := requireString(c, "relay")
	if err != nil {
		return err
	}
	room, err := requireString(c, "room")
	if err != nil {
		return err
	}
	peerID, err := requireString(c, "peer")
	if err != nil {
		return err
	}

	t, st, err := loadTeam(teamName)
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}
	defer st.Close()

	conn, err := wsconn.Dial(relayURL, "/v1/relay/"+room, "", nil)
	if err != nil {
		return cli.Exit(fmt.Errorf("connect: %w", err), OperationFailed)
	}
	defer conn.Close()

	connection := t.Connect(peerID, conn)
	go conn.Serve(connection)

	sub := t.Events().Subscribe(string(events.Connected), string(events.Updated), string(events.Disconnected), string(events.Error))
	defer t.Events().Unsubscribe(sub, string(events.Connected), string(events.Updated), string(events.Disconnected), string(events.Error))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("connected to relay room %q, waiting for peer %q (ctrl-c to stop)\n", room, peerID)
	for {
		select {
		case raw := <-sub:
			evt := raw.(events.Event)
			fmt.Printf("[%s] peer=%s data=%v err=%v\n", evt.Kind, evt.Topic, evt.Data, evt.Err)
		case <-sig:
			t.Disconnect(peerID)
			return saveTeam(st, teamName, t)
		}
	}
}
