// Command chatmesh-server runs one node of a chat cluster: the client TCP
// port, the peer port, and the admin HTTP port.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/chatmesh-go/internal/infra/confloader"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "chatmesh-server",
		Usage:   "clustered chat server node",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"CHATMESH_CONFIG"},
			},
			&cli.StringFlag{Name: "id", Usage: "server id (server.id)"},
			&cli.IntFlag{Name: "port", Usage: "client port (server.port)"},
			&cli.IntFlag{Name: "peer-port", Usage: "peer port (cluster.peer_port)"},
			&cli.StringSliceFlag{Name: "peer", Usage: "peer host:port, repeatable (cluster.peers)"},
			&cli.StringFlag{Name: "storage", Usage: "storage backend: badger, memory, postgres"},
			&cli.StringFlag{Name: "log-level", Usage: "log level (log.level)"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			cfg, err := confloader.LoadServer(path, flagOverrides(c))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(c.Context, cfg, path)
		},
	}
}

// flagOverrides maps the flags that were set onto configuration keys.
func flagOverrides(c *cli.Context) map[string]any {
	out := map[string]any{}
	if c.IsSet("id") {
		out["server.id"] = c.String("id")
	}
	if c.IsSet("port") {
		out["server.port"] = c.Int("port")
	}
	if c.IsSet("peer-port") {
		out["cluster.peer_port"] = c.Int("peer-port")
	}
	if c.IsSet("peer") {
		out["cluster.peers"] = strings.Join(c.StringSlice("peer"), ",")
	}
	if c.IsSet("storage") {
		out["storage.backend"] = c.String("storage")
	}
	if c.IsSet("log-level") {
		out["log.level"] = c.String("log-level")
	}
	return out
}
