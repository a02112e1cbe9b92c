package cli

import (
	"context"
	"fmt"

	"github.com/lab47/dbs/manage"
	"github.com/lab47/dbs/pkg/units"
	"github.com/lab47/dbs/query"
)

func (c *CLI) initDevice(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"path to the device file" required:"true"`
}) error {
	if err := manage.InitDevice(c.log, opts.Path); err != nil {
		return err
	}

	fmt.Printf("initialized device at %s\n", opts.Path)
	return nil
}

func (c *CLI) deviceInfo(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"path to the device file" required:"true"`
}) error {
	info, err := query.Device(c.log, opts.Path)
	if err != nil {
		return err
	}

	fmt.Printf("version:    %s\n", info.Version)
	fmt.Printf("uuid:       %s\n", info.UUID)
	fmt.Printf("size:       %s\n", units.Bytes(info.DeviceSize).Short())
	fmt.Printf("extents:    %d / %d allocated\n", info.AllocatedDeviceExtents, info.TotalDeviceExtents)
	fmt.Printf("volumes:    %d\n", info.VolumeCount)

	return nil
}
