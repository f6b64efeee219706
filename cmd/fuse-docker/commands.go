package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucido-simon/fuse-docker/pkg/dockerfs"
	"github.com/lucido-simon/fuse-docker/pkg/fuse"
	"github.com/lucido-simon/fuse-docker/pkg/inode"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print the containers directory as the mount would show it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		docker, c, err := newDaemon(cfg)
		if err != nil {
			return err
		}
		defer docker.Close()

		ctx := cmd.Context()
		fsys := dockerfs.New(docker, c, dockerfs.Config{})
		if err := fsys.Init(ctx); err != nil {
			return err
		}

		entries, errno := fsys.Readdir(ctx, dockerfs.Containers.Ino(), 0)
		if errno != 0 {
			return fmt.Errorf("list containers: %w", errno)
		}
		return printContainers(cmd.OutOrStdout(), fsys, entries)
	},
}

func printContainers(w io.Writer, fsys *dockerfs.FS, entries []fuse.DirEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INODE\tNAME\tID\tSTATE\tCREATED")
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		ctr, ok := fsys.Container(e.Attr.Ino)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "0x%016x\t%s\t%s\t%s\t%s\n",
			e.Attr.Ino, e.Name, ctr.ShortID(), ctr.State, ctr.Created.Format(time.DateTime))
	}
	return tw.Flush()
}

var inodeCmd = &cobra.Command{
	Use:   "inode",
	Short: "Convert between container ids and inode numbers",
}

var inodeEncodeCmd = &cobra.Command{
	Use:   "encode <id>",
	Short: "Show the inode a container id maps to",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ino := inode.Encode(args[0])
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d\t0x%016x\n", ino, ino)
		if len(args[0]) > inode.Width {
			fmt.Fprintf(out, "note: only %q is significant\n", args[0][:inode.Width])
		}
		if inode.Reserved(ino) {
			fmt.Fprintln(out, "warning: inode falls in the reserved directory range")
		}
	},
}

var inodeDecodeCmd = &cobra.Command{
	Use:   "decode <ino>",
	Short: "Show the id prefix an inode was derived from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ino, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("parse inode %q: %w", args[0], err)
		}
		if c, ok := dockerfs.CategoryOf(ino); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "directory %s\n", c)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), inode.Decode(ino))
		return nil
	},
}

var unmountCmd = &cobra.Command{
	Use:   "unmount [mountpoint]",
	Short: "Lazily detach a mount left behind by a dead process",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		mountPoint := cfg.MountPoint
		if len(args) == 1 {
			mountPoint = args[0]
		}
		if err := fuse.Unmount(mountPoint); err != nil {
			return err
		}
		logger.Info("Unmounted", logger.String("mountpoint", mountPoint))
		return nil
	},
}
