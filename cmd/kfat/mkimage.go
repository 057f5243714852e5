package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aligator/kfat/internal/fatimage"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/spf13/afero"
)

type mkimageCmd struct {
	volume            volumeFlags
	fat12             bool
	label             string
	sectorsPerCluster uint
	rootEntries       uint
}

func (*mkimageCmd) Name() string     { return "mkimage" }
func (*mkimageCmd) Synopsis() string { return "builds a partitioned disk image from host files" }
func (*mkimageCmd) Usage() string {
	return `mkimage [-fat12] [-label name] [-offset sector] <out> <file>...
  Stores every file in the root directory of a new volume. File names must
  fit 8.3.
`
}

func (cmd *mkimageCmd) SetFlags(f *flag.FlagSet) {
	def := fatimage.DefaultImage()
	cmd.volume.register(f)
	f.BoolVar(&cmd.fat12, "fat12", false, "build a FAT12 instead of a FAT16 volume")
	f.StringVar(&cmd.label, "label", def.Label, "volume label")
	f.UintVar(&cmd.sectorsPerCluster, "spc", uint(def.SectorsPerCluster), "sectors per cluster")
	f.UintVar(&cmd.rootEntries, "root", uint(def.RootEntries), "entries of the root directory")
}

func (cmd *mkimageCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := cmd.execute(f.Arg(0), f.Args()[1:]); err != nil {
		glog.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *mkimageCmd) image() (fatimage.Image, error) {
	img := fatimage.DefaultImage()
	if cmd.fat12 {
		img.Type = fatimage.FAT12
	}
	if cmd.sectorsPerCluster == 0 || cmd.sectorsPerCluster > 128 {
		return img, fmt.Errorf("invalid sectors per cluster %d", cmd.sectorsPerCluster)
	}
	if cmd.rootEntries == 0 || cmd.rootEntries > 0xFFFF {
		return img, fmt.Errorf("invalid root entry count %d", cmd.rootEntries)
	}
	img.PartitionOffset = uint32(cmd.volume.offset)
	img.SectorsPerCluster = uint8(cmd.sectorsPerCluster)
	img.RootEntries = uint16(cmd.rootEntries)
	img.Label = strings.ToUpper(cmd.label)
	return img, nil
}

func (cmd *mkimageCmd) execute(out string, files []string) error {
	img, err := cmd.image()
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := afero.ReadFile(appFs, file)
		if err != nil {
			return err
		}
		img.Entries = append(img.Entries, fatimage.Entry{
			Name: strings.ToUpper(filepath.Base(file)),
			Data: data,
			Attr: fatimage.AttrArchive,
		})
	}

	raw, layout, err := img.Build()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(appFs, out, raw, 0644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote %s: %d files, %d clusters of %s, data at sector %d\n",
		out, len(files), layout.DataClusters, humanize.IBytes(uint64(layout.ClusterSize())), layout.DataStart)
	return nil
}
