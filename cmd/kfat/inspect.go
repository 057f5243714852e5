package main

import (
	"context"
	"flag"
	"fmt"
	iofs "io/fs"
	"os"
	"path"

	"github.com/aligator/kfat"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

type infoCmd struct {
	volume volumeFlags
}

func (*infoCmd) Name() string     { return "info" }
func (*infoCmd) Synopsis() string { return "prints the geometry of the FAT volume" }
func (*infoCmd) Usage() string {
	return "info [-offset sector] <image>\n"
}

func (cmd *infoCmd) SetFlags(f *flag.FlagSet) {
	cmd.volume.register(f)
}

func (cmd *infoCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := cmd.execute(f.Arg(0)); err != nil {
		glog.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *infoCmd) execute(image string) (err error) {
	fat, img, err := cmd.volume.open(image)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, img.Close()) }()

	info, err := fat.Info()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Volume:   %q (%v)\n", fat.Label(), info.FSType)
	fmt.Fprintf(stdout, "Offset:   sector %d\n", info.PartitionOffset)
	fmt.Fprintf(stdout, "Size:     %s in %d sectors\n", humanize.IBytes(uint64(info.TotalSectors)*uint64(info.BytesPerSector)), info.TotalSectors)
	fmt.Fprintf(stdout, "Clusters: %d of %s\n", info.ClusterCount, humanize.IBytes(uint64(info.ClusterSize())))
	fmt.Fprintf(stdout, "FAT:      sector %d, %d copies of %d sectors\n", info.FATStart, info.NumFATs, info.SectorsPerFAT)
	fmt.Fprintf(stdout, "Root:     sector %d, %d entries\n", info.RootStart, info.RootEntryCount)
	fmt.Fprintf(stdout, "Data:     sector %d\n", info.DataStart)
	return nil
}

type lsCmd struct {
	volume volumeFlags
}

func (*lsCmd) Name() string     { return "ls" }
func (*lsCmd) Synopsis() string { return "lists the files of the root directory" }
func (*lsCmd) Usage() string {
	return "ls [-offset sector] <image>\n"
}

func (cmd *lsCmd) SetFlags(f *flag.FlagSet) {
	cmd.volume.register(f)
}

func (cmd *lsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := cmd.execute(f.Arg(0)); err != nil {
		glog.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *lsCmd) execute(image string) (err error) {
	fat, img, err := cmd.volume.open(image)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, img.Close()) }()

	fmt.Fprintf(stdout, "Volume %q (%v)\n\n", fat.Label(), fat.FSType())
	return afero.Walk(fat, "/", func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		fmt.Fprintf(stdout, "%-12s %10s  %s\n", path.Base(name), humanize.IBytes(uint64(info.Size())), info.ModTime().Format("2006-01-02 15:04:05"))
		return nil
	})
}

type catCmd struct {
	volume volumeFlags
}

func (*catCmd) Name() string     { return "cat" }
func (*catCmd) Synopsis() string { return "prints a file of the root directory" }
func (*catCmd) Usage() string {
	return "cat [-offset sector] <image> <name>...\n"
}

func (cmd *catCmd) SetFlags(f *flag.FlagSet) {
	cmd.volume.register(f)
}

func (cmd *catCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := cmd.execute(f.Arg(0), f.Args()[1:]); err != nil {
		glog.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *catCmd) execute(image string, names []string) (err error) {
	fat, img, err := cmd.volume.open(image)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, img.Close()) }()

	fsys := kfat.GoFs{Fs: fat}
	for _, name := range names {
		content, err := iofs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		if _, err := stdout.Write(content); err != nil {
			return err
		}
	}
	return nil
}
