/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan 17 18:00:47 2018 mstenber
 * Last modified: Thu Apr 12 12:31:40 2018 mstenber
 * Edit time:     48 min
 *
 */

package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/fingon/go-flatfs/config"
	"github.com/fingon/go-flatfs/connector"
	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/mlog"
)

func main() {
	app := cli.App{
		Name:  "flatfsctl",
		Usage: "manipulate a flatfs server over gRPC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "family",
				Value:   "tcp",
				Usage:   "address family of the server",
				EnvVars: []string{config.EnvPrefix + "_FAMILY"},
			},
			&cli.StringFlag{
				Name:     "address",
				Usage:    "address of the server",
				EnvVars:  []string{config.EnvPrefix + "_ADDRESS"},
				Required: true,
			},
		},
		Commands: []*cli.Command{{
			Name:      "format",
			Usage:     "erase everything and lay out a fresh file system",
			ArgsUsage: "[INODES]",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				inodes := fs.DefaultInodes
				if ctx.NArg() > 0 {
					_, err := fmt.Sscanf(ctx.Args().First(), "%d", &inodes)
					if err != nil {
						return errors.Wrapf(err, "bad inode count %q", ctx.Args().First())
					}
				}
				return c.Format(ctx.Context, inodes)
			}),
		}, {
			Name:    "ls",
			Aliases: []string{"list"},
			Usage:   "list files with their sizes",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				names, err := c.List(ctx.Context)
				if err != nil {
					return err
				}
				for _, name := range names {
					fi, err := c.Info(ctx.Context, name)
					if err != nil {
						// Deleted in between
						if fs.Is(err, fs.ErrNotFound) {
							continue
						}
						return err
					}
					fmt.Printf("%4d %8d %-13s %s\n", fi.Inumber, fi.Length, fi.Flag, fi.Name)
				}
				return nil
			}),
		}, {
			Name:      "put",
			Usage:     "copy local file to the file system",
			ArgsUsage: "LOCAL NAME",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				if ctx.NArg() != 2 {
					return errors.New("put needs LOCAL and NAME")
				}
				src, err := os.Open(ctx.Args().Get(0))
				if err != nil {
					return err
				}
				defer src.Close()
				dst, err := c.Open(ctx.Context, ctx.Args().Get(1), "w")
				if err != nil {
					return err
				}
				n, err := io.Copy(dst, src)
				mlog.Printf2("cmd/flatfsctl/flatfsctl", "put wrote %d", n)
				if err2 := dst.Close(); err == nil {
					err = err2
				}
				return err
			}),
		}, {
			Name:      "get",
			Usage:     "copy file from the file system to local file",
			ArgsUsage: "NAME LOCAL",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				if ctx.NArg() != 2 {
					return errors.New("get needs NAME and LOCAL")
				}
				src, err := c.Open(ctx.Context, ctx.Args().Get(0), "r")
				if err != nil {
					return err
				}
				defer src.Close()
				dst, err := os.Create(ctx.Args().Get(1))
				if err != nil {
					return err
				}
				_, err = io.Copy(dst, src)
				if err2 := dst.Close(); err == nil {
					err = err2
				}
				return err
			}),
		}, {
			Name:      "cat",
			Usage:     "print file to standard output",
			ArgsUsage: "NAME",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return errors.New("cat needs NAME")
				}
				src, err := c.Open(ctx.Context, ctx.Args().First(), "r")
				if err != nil {
					return err
				}
				defer src.Close()
				_, err = io.Copy(os.Stdout, src)
				return err
			}),
		}, {
			Name:      "rm",
			Aliases:   []string{"delete"},
			Usage:     "delete files",
			ArgsUsage: "NAME...",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				for _, name := range ctx.Args().Slice() {
					err := c.Delete(ctx.Context, name)
					if err != nil {
						return err
					}
				}
				return nil
			}),
		}, {
			Name:  "stat",
			Usage: "show block and inode usage",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				st, err := c.Stat(ctx.Context)
				if err != nil {
					return err
				}
				fmt.Printf("blocks: %d free of %d\n", st.FreeBlocks, st.TotalBlocks)
				fmt.Printf("inodes: %d free of %d\n", st.FreeInodes, st.TotalInodes)
				fmt.Printf("open handles: %d\n", st.OpenHandles)
				return nil
			}),
		}, {
			Name:  "sync",
			Usage: "flush the file system to its backend",
			Action: withConnector(func(c *connector.Connector, ctx *cli.Context) error {
				return c.Sync(ctx.Context)
			}),
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withConnector(f func(*connector.Connector, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := (&connector.Connector{Family: ctx.String("family"),
			Address: ctx.String("address")}).Init()
		if err != nil {
			return errors.Wrap(err, "connecting")
		}
		defer c.Close()
		return f(c, ctx)
	}
}
