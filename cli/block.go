package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/volume"
	"github.com/lab47/dbs/wire"
)

func (c *CLI) openVolume(path, name string) (*volume.Context, error) {
	mc, err := device.OpenMetadataPath(c.log, path)
	if err != nil {
		return nil, err
	}

	vc, err := volume.Open(c.log, mc, name)
	if err != nil {
		mc.Close()
		return nil, err
	}

	return vc, nil
}

func (c *CLI) blockRead(ctx context.Context, opts struct {
	Global
	Path   string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Volume string `short:"v" long:"volume" description:"volume to read from" required:"true"`
	Block  uint64 `short:"b" long:"block" description:"block number" required:"true"`
	Out    string `short:"o" long:"out" description:"file to write the block to" required:"true"`
}) error {
	vc, err := c.openVolume(opts.Path, opts.Volume)
	if err != nil {
		return err
	}
	defer vc.Close()

	buf := make([]byte, wire.BlockSize)
	if err := vc.Read(opts.Block, buf); err != nil {
		return err
	}

	return os.WriteFile(opts.Out, buf, 0o644)
}

func (c *CLI) blockWrite(ctx context.Context, opts struct {
	Global
	Path   string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Volume string `short:"v" long:"volume" description:"volume to write to" required:"true"`
	Block  uint64 `short:"b" long:"block" description:"block number" required:"true"`
	In     string `short:"i" long:"in" description:"file holding the block contents" required:"true"`
}) error {
	data, err := os.ReadFile(opts.In)
	if err != nil {
		return err
	}
	if len(data) != wire.BlockSize {
		return fmt.Errorf("%s must be exactly %d bytes, got %d", opts.In, wire.BlockSize, len(data))
	}

	vc, err := c.openVolume(opts.Path, opts.Volume)
	if err != nil {
		return err
	}
	defer vc.Close()

	return vc.Write(opts.Block, data)
}

func (c *CLI) blockUnmap(ctx context.Context, opts struct {
	Global
	Path   string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Volume string `short:"v" long:"volume" description:"volume to unmap from" required:"true"`
	Block  uint64 `short:"b" long:"block" description:"block number" required:"true"`
}) error {
	vc, err := c.openVolume(opts.Path, opts.Volume)
	if err != nil {
		return err
	}
	defer vc.Close()

	return vc.Unmap(opts.Block)
}
