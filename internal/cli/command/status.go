package command

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatmesh-go/internal/cli/connection"
	"github.com/yndnr/chatmesh-go/internal/cli/output"
	"github.com/yndnr/chatmesh-go/internal/server/httpserver/handler"
)

// StatusCommand prints a node summary.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show node id, version, uptime and session counts",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context, client *connection.Client) (any, error) {
				st, err := client.Status(ctx)
				if err != nil {
					return nil, err
				}
				return statusView{st}, nil
			})
		},
	}
}

type statusView struct{ *handler.Status }

func (v statusView) Table() *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("server", v.ServerID)
	t.AddRow("version", v.Version)
	t.AddRow("uptime", (time.Duration(v.UptimeSeconds) * time.Second).String())
	t.AddRow("local sessions", strconv.Itoa(v.LocalSessions))
	t.AddRow("remote sessions", strconv.Itoa(v.RemoteSessions))
	t.AddRow("peers", strings.Join(v.ConnectedPeers, ","))
	return t
}

// PeersCommand lists peer links and their phase.
func PeersCommand() *cli.Command {
	return &cli.Command{
		Name:  "peers",
		Usage: "list peer endpoints and link phases",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context, client *connection.Client) (any, error) {
				st, err := client.Status(ctx)
				if err != nil {
					return nil, err
				}
				return peersView{st}, nil
			})
		},
	}
}

type peersView struct{ *handler.Status }

func (v peersView) Table() *output.Table {
	t := output.NewTable("PEER", "ENDPOINT", "PHASE", "DIRECTION")
	for _, p := range v.Peers {
		dir := "outbound"
		if p.Inbound {
			dir = "inbound"
		}
		t.AddRow(p.PeerID, p.Endpoint, p.Phase, dir)
	}
	return t
}

func (v peersView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Peers)
}
