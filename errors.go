package kfat

import (
	"errors"
	"fmt"
	"io/fs"
)

// These errors may occur while initializing or using the filesystem.
// They are usually wrapped by a checkpoint, so compare them with errors.Is.
var (
	ErrIO                    = errors.New("could not read from the device")
	ErrInvalidSignature      = errors.New("boot sector signature is not 0xAA55")
	ErrUnsupportedFilesystem = errors.New("filesystem type is neither FAT12 nor FAT16")
	ErrInvalidBootSector     = errors.New("boot sector contains invalid values")
	ErrNotInitialized        = errors.New("filesystem is not initialized")
	ErrTruncated             = errors.New("region does not fit into the configured buffer")
	ErrBadCluster            = errors.New("cluster chain is corrupt")
	ErrTooManyOpenFiles      = errors.New("no free file handle")
	ErrReadOnly              = errors.New("filesystem is read only")

	// ErrNotFound also matches fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("file not found in root directory: %w", fs.ErrNotExist)
)

// These errors may occur while processing a file.
var (
	ErrReadFile   = errors.New("could not read file completely")
	ErrSeekFile   = errors.New("files can only be rewound by reopening them")
	ErrReadDir    = errors.New("could not read the directory")
	ErrFileClosed = errors.New("file is closed")
)
