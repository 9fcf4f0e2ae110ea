// Command ext2cat mounts an ext2 image read-only and either lists a
// directory or dumps a regular file's contents to stdout.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lihanrui2913/goext2/backend/file"
	"github.com/lihanrui2913/goext2/device"
	"github.com/lihanrui2913/goext2/ext2"
	"github.com/sirupsen/logrus"
)

func main() {
	flag.Usage = func() {
		os.Stderr.WriteString("usage: ext2cat <image> <path>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	imagePath, targetPath := flag.Arg(0), flag.Arg(1)

	logger := logrus.StandardLogger()
	logger.SetLevel(logrus.WarnLevel)

	storage, err := file.OpenFromPath(imagePath, true)
	if err != nil {
		logger.WithError(err).Fatal("ext2cat: open image")
	}
	defer storage.Close()

	size, err := file.Size(storage)
	if err != nil {
		logger.WithError(err).Fatal("ext2cat: determine image size")
	}

	d := device.NewBackend(storage, size)
	fs, err := ext2.Mount(d, ext2.Params{Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("ext2cat: mount")
	}

	number, in, err := fs.GetFile(targetPath)
	if err != nil {
		logger.WithError(err).Fatal("ext2cat: resolve path")
	}

	switch in.FileType() {
	case ext2.FileTypeDir:
		dir, err := ext2.OpenDirectory(d, fs.Superblock(), number, in, nil, nil)
		if err != nil {
			logger.WithError(err).Fatal("ext2cat: open directory")
		}
		entries, err := dir.Entries()
		if err != nil {
			logger.WithError(err).Fatal("ext2cat: read directory")
		}
		for _, e := range entries {
			fmt.Println(e.Name)
		}
	case ext2.FileTypeRegular:
		f, err := ext2.OpenRegular(d, fs.Superblock(), number, in, nil, nil)
		if err != nil {
			logger.WithError(err).Fatal("ext2cat: open file")
		}
		buf := make([]byte, 64*1024)
		var off uint64
		for off < f.Size() {
			n, err := f.ReadAt(buf, off)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				break
			}
			off += uint64(n)
		}
	case ext2.FileTypeSymlink:
		link, err := ext2.OpenSymbolicLink(d, fs.Superblock(), number, in, nil, nil)
		if err != nil {
			logger.WithError(err).Fatal("ext2cat: open symlink")
		}
		target, err := link.Target()
		if err != nil {
			logger.WithError(err).Fatal("ext2cat: read symlink")
		}
		fmt.Println(target)
	default:
		logger.Fatalf("ext2cat: %s is not a regular file, directory, or symlink", targetPath)
	}
}
