package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatmesh-go/internal/cli/connection"
	"github.com/yndnr/chatmesh-go/internal/cli/output"
	"github.com/yndnr/chatmesh-go/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "chatmesh-cli",
		Usage:   "inspect a chatmesh node through its admin port",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			PeersCommand(),
			SessionsCommand(),
		},
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "admin address of the node",
			EnvVars: []string{"CHATMESH_ADMIN_ADDR"},
			Value:   "http://localhost:5150",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json",
			Value:   string(output.FormatTable),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "request timeout",
			Value: 10 * time.Second,
		},
		&cli.BoolFlag{
			Name:  "no-headers",
			Usage: "omit table headers",
		},
	}
}

// GlobalFlags are the flags shared by all commands.
type GlobalFlags struct {
	Addr      string
	Output    output.Format
	Timeout   time.Duration
	NoHeaders bool
}

// ParseGlobalFlags extracts and validates the global flags.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	return &GlobalFlags{
		Addr:      c.String("addr"),
		Output:    format,
		Timeout:   c.Duration("timeout"),
		NoHeaders: c.Bool("no-headers"),
	}, nil
}

// run resolves the flags, calls fn with a client and prints its result.
func run(c *cli.Context, fn func(ctx context.Context, client *connection.Client) (any, error)) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, flags.Timeout)
	defer cancel()

	result, err := fn(ctx, connection.NewClient(flags.Addr, flags.Timeout))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return render(c.App.Writer, flags, result)
}

func render(w io.Writer, flags *GlobalFlags, v any) error {
	if flags.Output == output.FormatTable {
		return output.TableFormatter{NoHeaders: flags.NoHeaders}.Format(w, v)
	}
	return output.NewFormatter(flags.Output).Format(w, v)
}
