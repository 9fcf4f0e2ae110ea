package ext2

import "strings"

// ComponentKind classifies one element of a parsed path.
type ComponentKind int

const (
	// RootDir is the leading "/" of an absolute path.
	RootDir ComponentKind = iota
	// DoubleSlashRootDir is a leading "//" (exactly two slashes),
	// which POSIX permits an implementation to treat specially rather
	// than collapsing to a single root; this implementation still
	// resolves it to the same root inode; the distinct kind exists so
	// callers can preserve the distinction if they choose to.
	DoubleSlashRootDir
	// CurDir is a "." component.
	CurDir
	// ParentDir is a ".." component.
	ParentDir
	// Normal is an ordinary named component.
	Normal
)

// Component is one element of a parsed Path.
type Component struct {
	Kind ComponentKind
	Name string
}

// Path is a parsed, absolute pathname: a sequence of components in
// resolution order.
type Path struct {
	Components []Component
}

// ParsePath splits an absolute pathname into components, rejecting
// relative paths and names that individually exceed 255 bytes or
// whose serialized form would exceed PathMax.
func ParsePath(s string) (*Path, error) {
	if len(s) > PathMax {
		return nil, &Error{Kind: NameTooLong, Path: s}
	}
	if !strings.HasPrefix(s, "/") {
		return nil, &Error{Kind: AbsolutePathRequired, Path: s}
	}

	p := &Path{}
	switch {
	case strings.HasPrefix(s, "//") && !strings.HasPrefix(s, "///"):
		p.Components = append(p.Components, Component{Kind: DoubleSlashRootDir})
		s = s[2:]
	default:
		p.Components = append(p.Components, Component{Kind: RootDir})
		s = s[1:]
	}

	for _, part := range strings.Split(s, "/") {
		switch part {
		case "":
			continue
		case ".":
			p.Components = append(p.Components, Component{Kind: CurDir})
		case "..":
			p.Components = append(p.Components, Component{Kind: ParentDir})
		default:
			if len(part) > 255 {
				return nil, &Error{Kind: NameTooLong, Path: part}
			}
			p.Components = append(p.Components, Component{Kind: Normal, Name: part})
		}
	}
	return p, nil
}

// Canonical returns the path with "." components dropped and ".."
// components resolved against their preceding Normal component where
// possible (a ".." immediately after the root collapses to the root,
// matching the usual filesystem convention that you cannot go above
// "/").
func (p *Path) Canonical() *Path {
	out := &Path{}
	for _, c := range p.Components {
		switch c.Kind {
		case CurDir:
			continue
		case ParentDir:
			if n := len(out.Components); n > 0 && out.Components[n-1].Kind == Normal {
				out.Components = out.Components[:n-1]
				continue
			}
			if n := len(out.Components); n > 0 && (out.Components[n-1].Kind == RootDir || out.Components[n-1].Kind == DoubleSlashRootDir) {
				continue
			}
			out.Components = append(out.Components, c)
		default:
			out.Components = append(out.Components, c)
		}
	}
	return out
}

// String reassembles the path into its textual form.
func (p *Path) String() string {
	var b strings.Builder
	for i, c := range p.Components {
		switch c.Kind {
		case RootDir:
			b.WriteString("/")
		case DoubleSlashRootDir:
			b.WriteString("//")
		case CurDir:
			b.WriteString(".")
		case ParentDir:
			b.WriteString("..")
		case Normal:
			b.WriteString(c.Name)
		}
		if i < len(p.Components)-1 && c.Kind != RootDir && c.Kind != DoubleSlashRootDir {
			b.WriteString("/")
		} else if i < len(p.Components)-1 && (c.Kind == RootDir || c.Kind == DoubleSlashRootDir) {
			// root already ends in a slash
		}
	}
	return b.String()
}
