// Package cli wires the device, volume, snapshot, and block operations up
// as subcommands of the dbs binary, in the mitchellh/cli dispatcher plus
// lab47/cleo.Infer handler-inference style.
package cli

import (
	"log/slog"

	"github.com/lab47/cleo"
	"github.com/mitchellh/cli"
)

type CLI struct {
	log *slog.Logger

	lc *cli.CLI
}

// Global holds the flags every subcommand accepts. No handler reads Debug;
// debug logging is switched on by the DBS_DEBUG environment variable in
// cmd/dbs.
type Global struct {
	Debug bool `short:"D" long:"debug" description:"has no effect; set DBS_DEBUG to enable debug logging"`
}

func NewCLI(log *slog.Logger, version string, args []string) (*CLI, error) {
	c := &CLI{
		log: log,
		lc:  cli.NewCLI("dbs", version),
	}

	c.lc.Args = args

	if err := c.setupCommands(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *CLI) Run() (int, error) {
	return c.lc.Run()
}

func (c *CLI) setupCommands() error {
	c.lc.Commands = map[string]cli.CommandFactory{
		"init": func() (cli.Command, error) {
			return cleo.Infer("init", "format a path as a fresh, empty device", c.initDevice), nil
		},

		"device info": func() (cli.Command, error) {
			return cleo.Infer("device info", "report the superblock and allocation state of a device", c.deviceInfo), nil
		},

		"volume create": func() (cli.Command, error) {
			return cleo.Infer("volume create", "create a new empty volume", c.volumeCreate), nil
		},
		"volume rename": func() (cli.Command, error) {
			return cleo.Infer("volume rename", "rename an existing volume", c.volumeRename), nil
		},
		"volume delete": func() (cli.Command, error) {
			return cleo.Infer("volume delete", "delete a volume and its whole snapshot chain", c.volumeDelete), nil
		},
		"volume list": func() (cli.Command, error) {
			return cleo.Infer("volume list", "list every volume on a device", c.volumeList), nil
		},

		"snapshot create": func() (cli.Command, error) {
			return cleo.Infer("snapshot create", "add a new current snapshot to a volume", c.snapshotCreate), nil
		},
		"snapshot clone": func() (cli.Command, error) {
			return cleo.Infer("snapshot clone", "clone a snapshot into a new independent volume", c.snapshotClone), nil
		},
		"snapshot delete": func() (cli.Command, error) {
			return cleo.Infer("snapshot delete", "delete a non-current snapshot from its chain", c.snapshotDelete), nil
		},
		"snapshot list": func() (cli.Command, error) {
			return cleo.Infer("snapshot list", "list a volume's snapshot chain", c.snapshotList), nil
		},

		"block read": func() (cli.Command, error) {
			return cleo.Infer("block read", "read one block from a volume to a file", c.blockRead), nil
		},
		"block write": func() (cli.Command, error) {
			return cleo.Infer("block write", "write one block to a volume from a file", c.blockWrite), nil
		},
		"block unmap": func() (cli.Command, error) {
			return cleo.Infer("block unmap", "unmap one block of a volume", c.blockUnmap), nil
		},
	}

	return nil
}
