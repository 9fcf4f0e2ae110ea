// Command mkext2 formats a backing file as a fresh ext2 filesystem.
package main

import (
	"flag"
	"os"

	"github.com/google/uuid"
	"github.com/lihanrui2913/goext2/backend/file"
	"github.com/lihanrui2913/goext2/device"
	"github.com/lihanrui2913/goext2/ext2"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		size       = flag.Int64("size", 64*1024*1024, "size in bytes of the image to create")
		label      = flag.String("label", "", "volume label")
		blockSize  = flag.Uint("block-size", 1024, "block size in bytes")
		inodeRatio = flag.Uint("inode-ratio", 4096, "bytes per inode")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Usage = func() {
		os.Stderr.WriteString("usage: mkext2 [flags] <path>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	logger := logrus.StandardLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	storage, err := file.CreateFromPath(path, *size)
	if err != nil {
		logger.WithError(err).Fatal("mkext2: create backing file")
	}
	defer storage.Close()

	d := device.NewBackend(storage, *size)
	_, err = ext2.Create(d, ext2.CreateParams{
		VolumeLabel: *label,
		BlockSize:   uint32(*blockSize),
		InodeRatio:  uint32(*inodeRatio),
		Logger:      logger,
		UUID:        uuid.New(),
	})
	if err != nil {
		logger.WithError(err).Fatal("mkext2: format")
	}
	logger.WithField("path", path).Info("mkext2: done")
}
