package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gridexp/hadoopctl/hadoop"
	"github.com/gridexp/hadoopctl/remote"
	"github.com/gridexp/hadoopctl/remote/dockerexec"
	"github.com/gridexp/hadoopctl/remote/local"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "hadoopctl",
		Usage: "drive the life-cycle of a MapReduce/HDFS cluster on remote hosts",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "host",
				Usage:    "Cluster host as addr[:cores[:ramMB[:class]]]; repeat per host. The first host is the master.",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "rack",
				Usage: "Rack label per host, positional; must match the host count when given.",
			},
			&cli.StringFlag{
				Name:  "properties",
				Usage: "Path to an INI cluster properties file.",
			},
			&cli.StringFlag{
				Name:  "executor",
				Usage: "How to reach the hosts. One of [local,docker].",
				Value: "local",
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "Base image for the docker executor.",
				Value: "fedora",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "bootstrap",
				Usage:     "Install the software on every host from a tar.gz archive.",
				ArgsUsage: "ARCHIVE",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					if cliCtx.NArg() != 1 {
						return fmt.Errorf("bootstrap needs exactly one archive argument")
					}
					return c.Bootstrap(ctx, cliCtx.Args().First())
				}),
			},
			{
				Name:  "init",
				Usage: "Initialize the cluster: configuration, topology and storage format.",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					return c.Initialize(ctx)
				}),
			},
			{
				Name:  "start",
				Usage: "Start the storage layer and then the compute layer.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for the storage layer to leave safe mode.",
					},
				},
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					if cliCtx.Bool("wait") {
						return c.StartAndWait(ctx)
					}
					return c.Start(ctx)
				}),
			},
			{
				Name:  "stop",
				Usage: "Stop the compute layer and then the storage layer.",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					return c.Stop(ctx)
				}),
			},
			{
				Name:      "exec",
				Usage:     "Run a hadoop command on the master.",
				ArgsUsage: "COMMAND...",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					res, err := c.Execute(ctx, strings.Join(cliCtx.Args().Slice(), " "))
					if err != nil {
						return err
					}
					fmt.Print(res.Stdout)
					fmt.Fprint(os.Stderr, res.Stderr)
					if !res.Ok() {
						return fmt.Errorf("command exited with code %d", res.ExitCode)
					}
					return nil
				}),
			},
			{
				Name:      "set-conf",
				Usage:     "Change configuration properties (key=value ...) for the next restart.",
				ArgsUsage: "KEY=VALUE...",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					params := map[string]string{}
					for _, arg := range cliCtx.Args().Slice() {
						k, v, found := strings.Cut(arg, "=")
						if !found {
							return fmt.Errorf("argument %q is not of the form key=value", arg)
						}
						params[k] = v
					}
					return c.ChangeConf(ctx, params)
				}),
			},
			{
				Name:      "get-conf",
				Usage:     "Print the current values of configuration properties.",
				ArgsUsage: "KEY...",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					found, err := c.GetConf(ctx, cliCtx.Args().Slice())
					if err != nil {
						return err
					}
					for _, k := range cliCtx.Args().Slice() {
						if v, ok := found[k]; ok {
							fmt.Printf("%s=%s\n", k, v)
						}
					}
					return nil
				}),
			},
			{
				Name:  "clean",
				Usage: "Remove everything the software created and reset the tracked state.",
				Action: withCluster(func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error {
					return c.Clean(ctx)
				}),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withCluster(f func(ctx context.Context, c *hadoop.Cluster, cliCtx *cli.Context) error) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("constructing logger: %w", err)
		}
		defer logger.Sync()

		hosts, err := parseHosts(cliCtx.StringSlice("host"))
		if err != nil {
			return err
		}

		executor, err := buildExecutor(cliCtx)
		if err != nil {
			return err
		}

		opts := []hadoop.Option{hadoop.WithLogger(logger.Sugar())}
		if racks := cliCtx.StringSlice("rack"); len(racks) > 0 {
			opts = append(opts, hadoop.WithRacks(racks))
		}
		if p := cliCtx.String("properties"); p != "" {
			opts = append(opts, hadoop.WithPropertiesFile(p))
		}

		c, err := hadoop.New(executor, hosts, opts...)
		if err != nil {
			return err
		}
		return f(cliCtx.Context, c, cliCtx)
	}
}

func buildExecutor(cliCtx *cli.Context) (remote.Executor, error) {
	switch name := cliCtx.String("executor"); name {
	case "local":
		return local.New()
	case "docker":
		e, err := dockerexec.New()
		if err != nil {
			return nil, err
		}
		return e.WithBaseImage(cliCtx.String("image")), nil
	default:
		return nil, fmt.Errorf("unsupported executor %q", name)
	}
}

// parseHosts parses addr[:cores[:ramMB[:class]]] host specs.
func parseHosts(specs []string) ([]hadoop.Host, error) {
	var hosts []hadoop.Host
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		h := hadoop.Host{Address: parts[0], Cores: 1}
		if h.Address == "" {
			return nil, fmt.Errorf("host spec %q has no address", spec)
		}
		var err error
		if len(parts) > 1 {
			if h.Cores, err = strconv.Atoi(parts[1]); err != nil {
				return nil, fmt.Errorf("host spec %q: bad core count: %w", spec, err)
			}
		}
		if len(parts) > 2 {
			if h.RAMMB, err = strconv.Atoi(parts[2]); err != nil {
				return nil, fmt.Errorf("host spec %q: bad RAM size: %w", spec, err)
			}
		}
		if len(parts) > 3 {
			h.HardwareClass = parts[3]
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}
