package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lab47/dbs/manage"
	"github.com/lab47/dbs/query"
)

func (c *CLI) snapshotCreate(ctx context.Context, opts struct {
	Global
	Path   string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Volume string `short:"v" long:"volume" description:"volume to snapshot" required:"true"`
}) error {
	id, err := manage.CreateSnapshot(c.log, opts.Path, opts.Volume)
	if err != nil {
		return err
	}

	fmt.Printf("created snapshot %d on volume %q\n", id, opts.Volume)
	return nil
}

func (c *CLI) snapshotClone(ctx context.Context, opts struct {
	Global
	Path       string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Snapshot   uint16 `short:"s" long:"snapshot" description:"snapshot id to clone" required:"true"`
	VolumeName string `short:"n" long:"name" description:"name for the new volume" required:"true"`
}) error {
	if err := manage.CloneSnapshot(c.log, opts.Path, opts.VolumeName, opts.Snapshot); err != nil {
		return err
	}

	fmt.Printf("cloned snapshot %d into volume %q\n", opts.Snapshot, opts.VolumeName)
	return nil
}

func (c *CLI) snapshotDelete(ctx context.Context, opts struct {
	Global
	Path     string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Snapshot uint16 `short:"s" long:"snapshot" description:"snapshot id to delete" required:"true"`
}) error {
	if err := manage.DeleteSnapshot(c.log, opts.Path, opts.Snapshot); err != nil {
		return err
	}

	fmt.Printf("deleted snapshot %d\n", opts.Snapshot)
	return nil
}

func (c *CLI) snapshotList(ctx context.Context, opts struct {
	Global
	Path   string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Volume string `short:"v" long:"volume" description:"volume whose chain to list" required:"true"`
}) error {
	snaps, err := query.Snapshots(c.log, opts.Path, opts.Volume)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tPARENT\tCREATED\n")

	for _, s := range snaps {
		fmt.Fprintf(w, "%d\t%d\t%s\n", s.SnapshotID, s.ParentSnapshotID, s.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return w.Flush()
}
