// Command kfat inspects FAT12/FAT16 disk images the way the kernel sees them
// and boots the hosted kernel from them.
package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/aligator/kfat"
	"github.com/aligator/kfat/disk"
	"github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/spf13/afero"
)

// Replaced by tests.
var (
	appFs  afero.Fs  = afero.NewOsFs()
	stdout io.Writer = os.Stdout
)

// volumeFlags are shared by all commands which read an image.
type volumeFlags struct {
	offset uint
}

func (v *volumeFlags) register(f *flag.FlagSet) {
	f.UintVar(&v.offset, "offset", kfat.DefaultPartitionOffset, "sector of the FAT volume inside the image")
}

func (v *volumeFlags) options() kfat.Options {
	opts := kfat.DefaultOptions()
	opts.PartitionOffset = uint32(v.offset)
	return opts
}

// open mounts the volume of the image at path. The image must be closed by
// the caller.
func (v *volumeFlags) open(path string) (*kfat.Fs, *disk.Image, error) {
	img, err := disk.Open(appFs, path)
	if err != nil {
		return nil, nil, err
	}

	fat, err := kfat.NewWithOptions(img, v.options())
	if err != nil {
		img.Close()
		return nil, nil, err
	}
	return fat, img, nil
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&infoCmd{}, "")
	subcommands.Register(&lsCmd{}, "")
	subcommands.Register(&catCmd{}, "")
	subcommands.Register(&mkimageCmd{}, "")
	subcommands.Register(&bootCmd{}, "")

	flag.Set("logtostderr", "true")
	flag.Parse()

	status := subcommands.Execute(context.Background())
	glog.Flush()
	os.Exit(int(status))
}
