package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/aligator/kfat/disk"
	"github.com/aligator/kfat/kernel"
	"github.com/aligator/kfat/paging"
	"github.com/golang/glog"
	"github.com/google/subcommands"
	"go.uber.org/multierr"
)

type bootCmd struct {
	volume     volumeFlags
	demo       string
	frames     int
	heapFrames int
}

func (*bootCmd) Name() string     { return "boot" }
func (*bootCmd) Synopsis() string { return "boots the hosted kernel from an image" }
func (*bootCmd) Usage() string {
	return "boot [-offset sector] [-demo name] <image>\n"
}

func (cmd *bootCmd) SetFlags(f *flag.FlagSet) {
	def := kernel.DefaultConfig()
	cmd.volume.register(f)
	f.StringVar(&cmd.demo, "demo", def.DemoFile, "file to print after boot, empty to skip")
	f.IntVar(&cmd.frames, "frames", def.FrameCount, "number of physical frames")
	f.IntVar(&cmd.heapFrames, "heap", def.HeapFrames, "frames mapped as heap")
}

func (cmd *bootCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) (status subcommands.ExitStatus) {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	defer func() {
		if r := recover(); r != nil {
			fault, ok := r.(*paging.Fault)
			if !ok {
				panic(r)
			}
			glog.Errorf("kernel panic: %v", fault)
			status = subcommands.ExitFailure
		}
	}()

	if err := cmd.execute(f.Arg(0)); err != nil {
		glog.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *bootCmd) config() kernel.Config {
	cfg := kernel.DefaultConfig()
	cfg.FAT = cmd.volume.options()
	cfg.DemoFile = cmd.demo
	cfg.FrameCount = cmd.frames
	cfg.HeapFrames = cmd.heapFrames
	return cfg
}

func (cmd *bootCmd) execute(image string) (err error) {
	dev, err := disk.Open(appFs, image)
	if err != nil {
		return err
	}

	cpu := &paging.SimulatedCPU{}
	k, err := kernel.Boot(cmd.config(), dev, cpu, stdout)
	if err != nil {
		return multierr.Append(err, dev.Close())
	}

	fmt.Fprintf(stdout, "\nFree frames: %d of %d\n", k.Allocator().FreeCount(), k.Allocator().FrameCount())
	// Shutdown closes the device.
	return k.Shutdown()
}
