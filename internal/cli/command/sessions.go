package command

import (
	"context"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatmesh-go/internal/cli/connection"
	"github.com/yndnr/chatmesh-go/internal/cli/output"
	"github.com/yndnr/chatmesh-go/internal/server/httpserver/handler"
)

// SessionsCommand lists local and mirrored sessions.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "list sessions known to the node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "only sessions owned by this server id"},
			&cli.Int64Flag{Name: "user", Usage: "only sessions of this user id"},
			&cli.BoolFlag{Name: "local", Usage: "only sessions connected to this node"},
		},
		Action: func(c *cli.Context) error {
			filter := handler.SessionFilter{
				ServerID:  c.String("server"),
				ClienteID: c.Int64("user"),
				LocalOnly: c.Bool("local"),
			}
			return run(c, func(ctx context.Context, client *connection.Client) (any, error) {
				list, err := client.Sessions(ctx, filter)
				if err != nil {
					return nil, err
				}
				return sessionsView{list}, nil
			})
		},
	}
}

type sessionsView struct{ *handler.SessionList }

func (v sessionsView) Table() *output.Table {
	t := output.NewTable("SESSION", "SERVER", "USER", "NAME", "IP", "CHANNELS", "LOCAL")
	for _, s := range v.Sessions {
		user := ""
		if s.ClienteID != 0 {
			user = strconv.FormatInt(s.ClienteID, 10)
		}
		channels := make([]string, len(s.Channels))
		for i, id := range s.Channels {
			channels[i] = strconv.FormatInt(id, 10)
		}
		t.AddRow(s.SessionID, s.ServerID, user, s.Username, s.IP, strings.Join(channels, ","), strconv.FormatBool(s.Local))
	}
	return t
}
