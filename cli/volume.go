package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lab47/dbs/manage"
	"github.com/lab47/dbs/pkg/units"
	"github.com/lab47/dbs/query"
)

func (c *CLI) volumeCreate(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Name string `short:"n" long:"name" description:"name of the new volume" required:"true"`
	Size int64  `short:"s" long:"size" description:"size of the new volume, in bytes" required:"true"`
}) error {
	if err := manage.CreateVolume(c.log, opts.Path, opts.Name, uint64(opts.Size)); err != nil {
		return err
	}

	fmt.Printf("created volume %q (%s)\n", opts.Name, units.Bytes(opts.Size).Short())
	return nil
}

func (c *CLI) volumeRename(ctx context.Context, opts struct {
	Global
	Path    string `short:"p" long:"path" description:"path to the device file" required:"true"`
	OldName string `long:"old-name" description:"existing volume name" required:"true"`
	NewName string `long:"new-name" description:"new volume name" required:"true"`
}) error {
	if err := manage.RenameVolume(c.log, opts.Path, opts.OldName, opts.NewName); err != nil {
		return err
	}

	fmt.Printf("renamed volume %q to %q\n", opts.OldName, opts.NewName)
	return nil
}

func (c *CLI) volumeDelete(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"path to the device file" required:"true"`
	Name string `short:"n" long:"name" description:"volume to delete" required:"true"`
}) error {
	if err := manage.DeleteVolume(c.log, opts.Path, opts.Name); err != nil {
		return err
	}

	fmt.Printf("deleted volume %q\n", opts.Name)
	return nil
}

func (c *CLI) volumeList(ctx context.Context, opts struct {
	Global
	Path string `short:"p" long:"path" description:"path to the device file" required:"true"`
}) error {
	vols, err := query.Volumes(c.log, opts.Path)
	if err != nil {
		return err
	}

	if len(vols) == 0 {
		fmt.Println("no volumes found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tSIZE\tCURRENT SNAPSHOT\tSNAPSHOTS\tCREATED\n")

	for _, v := range vols {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			v.Name,
			units.Bytes(v.Size).Short(),
			v.CurrentSnapshotID,
			v.SnapshotCount,
			v.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return w.Flush()
}
