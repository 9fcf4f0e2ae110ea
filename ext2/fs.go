package ext2

import (
	"strings"
	"time"

	"github.com/lihanrui2913/goext2/device"
	"github.com/sirupsen/logrus"
)

// Params configures a mount of an existing ext2 image.
type Params struct {
	// Logger receives a debug message on mount and on each CreateFile;
	// the allocator and directory code log nothing. Defaults to
	// logrus.StandardLogger() when nil.
	Logger logrus.FieldLogger
	// CacheEnabled turns on the explicit inode/block-group-descriptor
	// cache. Off by default, matching a cold, single-shot CLI use.
	CacheEnabled bool
	// Now overrides the wall clock used to stamp inode times; nil
	// means derive it from the device's own Now(), falling back to
	// time.Now.
	Now func() time.Time
}

// Ext2Fs is a mounted ext2 filesystem: the superblock, the shared
// inode/block-group-descriptor caches, and the allocator built on top
// of them.
type Ext2Fs struct {
	d          device.Device[byte]
	sb         *Superblock
	inodeCache *Cache[uint32, *Inode]
	bgdCache   *Cache[uint32, *BlockGroupDescriptor]
	alloc      *Allocator
	logger     logrus.FieldLogger
	now        func() time.Time
}

// Mount parses the superblock on d and prepares the caches and
// allocator needed to operate on it.
func Mount(d device.Device[byte], p Params) (*Ext2Fs, error) {
	sb, err := ParseSuperblock(d)
	if err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bgdCache := NewCache[uint32, *BlockGroupDescriptor](p.CacheEnabled)
	inodeCache := NewCache[uint32, *Inode](p.CacheEnabled)
	now := p.Now
	if now == nil {
		now = func() time.Time {
			if t, ok := d.Now(); ok {
				return t
			}
			return time.Now()
		}
	}
	fs := &Ext2Fs{
		d:          d,
		sb:         sb,
		inodeCache: inodeCache,
		bgdCache:   bgdCache,
		alloc:      NewAllocator(d, sb, bgdCache),
		logger:     logger,
		now:        now,
	}
	logger.WithFields(logrus.Fields{
		"blocks":       sb.BlockCount,
		"block_groups": sb.BlockGroupCount(),
		"block_size":   sb.BlockSize(),
	}).Debug("ext2: mounted")
	return fs, nil
}

// Superblock exposes the mounted filesystem's superblock, mainly for
// reporting (df-style free space, label, UUID).
func (fs *Ext2Fs) Superblock() *Superblock { return fs.sb }

func (fs *Ext2Fs) loadInode(number uint32) (*Inode, error) {
	g := inodeBlockGroup(fs.sb, number)
	bgd, err := ParseBlockGroupDescriptor(fs.d, fs.sb, g, fs.bgdCache)
	if err != nil {
		return nil, err
	}
	return ParseInode(fs.d, fs.sb, bgd, number, fs.inodeCache)
}

func (fs *Ext2Fs) writeInode(number uint32, in *Inode) error {
	g := inodeBlockGroup(fs.sb, number)
	bgd, err := ParseBlockGroupDescriptor(fs.d, fs.sb, g, fs.bgdCache)
	if err != nil {
		return err
	}
	return WriteInode(fs.d, fs.sb, bgd, number, in, fs.inodeCache)
}

func (fs *Ext2Fs) openDir(number uint32, in *Inode) (*Directory, error) {
	return OpenDirectory(fs.d, fs.sb, number, in, fs.inodeCache, fs.bgdCache)
}

// Root opens the filesystem's root directory.
func (fs *Ext2Fs) Root() (*Directory, error) {
	in, err := fs.loadInode(RootInode)
	if err != nil {
		return nil, err
	}
	return fs.openDir(RootInode, in)
}

// splitComponents parses a (possibly relative) pathname into
// components, used both for the public GetFile entry point and for
// resolving symlink targets encountered mid-walk.
func splitComponents(s string) []Component {
	var comps []Component
	switch {
	case strings.HasPrefix(s, "//") && !strings.HasPrefix(s, "///"):
		comps = append(comps, Component{Kind: DoubleSlashRootDir})
		s = s[2:]
	case strings.HasPrefix(s, "/"):
		comps = append(comps, Component{Kind: RootDir})
		s = s[1:]
	}
	for _, part := range strings.Split(s, "/") {
		switch part {
		case "":
			continue
		case ".":
			comps = append(comps, Component{Kind: CurDir})
		case "..":
			comps = append(comps, Component{Kind: ParentDir})
		default:
			comps = append(comps, Component{Kind: Normal, Name: part})
		}
	}
	return comps
}

// resolveFromComponents walks comps starting at the inode start,
// following every symlink it encounters (including within
// intermediate directories), and erroring Loop once more than
// MaxSymlinkHops have been followed.
func (fs *Ext2Fs) resolveFromComponents(start uint32, comps []Component, hops *int) (uint32, *Inode, error) {
	cur := start
	curIn, err := fs.loadInode(cur)
	if err != nil {
		return 0, nil, err
	}
	for _, c := range comps {
		switch c.Kind {
		case RootDir, DoubleSlashRootDir:
			cur = RootInode
			curIn, err = fs.loadInode(cur)
			if err != nil {
				return 0, nil, err
			}
		case CurDir:
			continue
		case ParentDir:
			if cur == RootInode {
				continue
			}
			dir, err := fs.openDir(cur, curIn)
			if err != nil {
				return 0, nil, err
			}
			e, err := dir.Lookup("..")
			if err != nil {
				return 0, nil, err
			}
			cur = e.Inode
			curIn, err = fs.loadInode(cur)
			if err != nil {
				return 0, nil, err
			}
		case Normal:
			if curIn.FileType() != FileTypeDir {
				return 0, nil, &Error{Kind: NotDir}
			}
			dir, err := fs.openDir(cur, curIn)
			if err != nil {
				return 0, nil, err
			}
			e, err := dir.Lookup(c.Name)
			if err != nil {
				return 0, nil, err
			}
			next := e.Inode
			nextIn, err := fs.loadInode(next)
			if err != nil {
				return 0, nil, err
			}
			for nextIn.FileType() == FileTypeSymlink {
				*hops++
				if *hops > MaxSymlinkHops {
					return 0, nil, &Error{Kind: Loop}
				}
				sl, err := OpenSymbolicLink(fs.d, fs.sb, next, nextIn, fs.inodeCache, fs.bgdCache)
				if err != nil {
					return 0, nil, err
				}
				target, err := sl.Target()
				if err != nil {
					return 0, nil, err
				}
				tcomps := splitComponents(target)
				base := cur
				if len(tcomps) > 0 && (tcomps[0].Kind == RootDir || tcomps[0].Kind == DoubleSlashRootDir) {
					base = RootInode
				}
				next, nextIn, err = fs.resolveFromComponents(base, tcomps, hops)
				if err != nil {
					return 0, nil, err
				}
			}
			cur, curIn = next, nextIn
		}
	}
	return cur, curIn, nil
}

// GetFile resolves an absolute pathname to its inode, following every
// symlink encountered along the way.
func (fs *Ext2Fs) GetFile(path string) (uint32, *Inode, error) {
	p, err := ParsePath(path)
	if err != nil {
		return 0, nil, err
	}
	hops := 0
	return fs.resolveFromComponents(RootInode, p.Components, &hops)
}

func splitParentName(path string) (string, string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "/", path
	}
	parent := path[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, path[idx+1:]
}

// CreateFile allocates a new inode of the given type under the
// directory at dirPath, links it in as name, and (for directories)
// creates its "." and ".." entries.
func (fs *Ext2Fs) CreateFile(dirPath, name string, ft FileType, perm uint16, uid, gid uint16) (uint32, error) {
	dirNumber, dirIn, err := fs.GetFile(dirPath)
	if err != nil {
		return 0, err
	}
	if dirIn.FileType() != FileTypeDir {
		return 0, &Error{Kind: NotDir}
	}
	dir, err := fs.openDir(dirNumber, dirIn)
	if err != nil {
		return 0, err
	}
	if _, err := dir.Lookup(name); err == nil {
		return 0, &Error{Kind: EntryAlreadyExists, Path: name}
	}

	number, err := fs.alloc.AllocateInode(ft == FileTypeDir)
	if err != nil {
		return 0, err
	}

	in := &Inode{}
	in.SetFileType(ft)
	in.Mode |= perm &^ modeFormatMask
	in.UID = uid
	in.GID = gid
	in.LinksCount = 1
	in.Touch(fs.now())
	if err := fs.writeInode(number, in); err != nil {
		return 0, err
	}

	if ft == FileTypeDir {
		in.LinksCount = 2
		newDir, err := fs.openDir(number, in)
		if err != nil {
			return 0, err
		}
		if err := newDir.AddEntry(fs.alloc, ".", number, FileTypeDir); err != nil {
			return 0, err
		}
		if err := newDir.AddEntry(fs.alloc, "..", dirNumber, FileTypeDir); err != nil {
			return 0, err
		}
		if err := fs.writeInode(number, in); err != nil {
			return 0, err
		}
		dirIn.LinksCount++
		if err := fs.writeInode(dirNumber, dirIn); err != nil {
			return 0, err
		}
	}

	if err := dir.AddEntry(fs.alloc, name, number, ft); err != nil {
		return 0, err
	}
	fs.logger.WithFields(logrus.Fields{"path": dirPath + "/" + name, "inode": number}).Debug("ext2: created file")
	return number, nil
}

// RemoveFile unlinks name from its parent directory. If the removed
// entry is itself a directory, every entry beneath it other than "."
// and ".." is removed first, recursively, before the directory itself
// is unlinked — there is no refusal for a non-empty directory.
func (fs *Ext2Fs) RemoveFile(path string) error {
	parentPath, name := splitParentName(path)
	dirNumber, dirIn, err := fs.GetFile(parentPath)
	if err != nil {
		return err
	}
	dir, err := fs.openDir(dirNumber, dirIn)
	if err != nil {
		return err
	}
	return fs.removeEntryFrom(dir, dirNumber, dirIn, name)
}

// removeEntryFrom removes name from dir (the directory numbered
// dirNumber, with inode dirIn), recursing into name's own entries
// first when it names a subdirectory, and decrementing dirIn's
// LinksCount once for every subdirectory removed beneath it.
func (fs *Ext2Fs) removeEntryFrom(dir *Directory, dirNumber uint32, dirIn *Inode, name string) error {
	if name == "." || name == ".." {
		return &Error{Kind: RemoveRefused, Path: name}
	}
	e, err := dir.Lookup(name)
	if err != nil {
		return err
	}
	in, err := fs.loadInode(e.Inode)
	if err != nil {
		return err
	}

	if in.FileType() == FileTypeDir {
		sub, err := fs.openDir(e.Inode, in)
		if err != nil {
			return err
		}
		children, err := sub.Entries()
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.Name == "." || child.Name == ".." {
				continue
			}
			if err := fs.removeEntryFrom(sub, e.Inode, in, child.Name); err != nil {
				return err
			}
		}
	}

	if err := dir.RemoveEntry(name); err != nil {
		return err
	}

	if in.FileType() == FileTypeDir {
		// A directory's own "." self-reference and its parent's
		// now-removed name entry both go away together.
		if in.LinksCount >= 2 {
			in.LinksCount -= 2
		} else {
			in.LinksCount = 0
		}
		if dirIn.LinksCount > 0 {
			dirIn.LinksCount--
		}
		if err := fs.writeInode(dirNumber, dirIn); err != nil {
			return err
		}
	} else if in.LinksCount > 0 {
		in.LinksCount--
	}

	if in.LinksCount == 0 {
		var blocks []uint32
		if in.FileType() != FileTypeSymlink || in.Blocks != 0 {
			ib, err := ParseIndirectedBlocks(fs.d, fs.sb, in)
			if err != nil {
				return err
			}
			blocks = append(blocks, ib.FlattenDataBlocks()...)
			blocks = append(blocks, ib.FlattenIndirectionBlocks()...)
		}
		if len(blocks) > 0 {
			if err := fs.alloc.DeallocateBlocks(blocks); err != nil {
				return err
			}
		}
		if err := fs.alloc.DeallocateInode(e.Inode, in.FileType() == FileTypeDir); err != nil {
			return err
		}
		fs.inodeCache.Invalidate(e.Inode)
		return nil
	}

	return fs.writeInode(e.Inode, in)
}
