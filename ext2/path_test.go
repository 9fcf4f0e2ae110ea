package ext2_test

import (
	"testing"

	"github.com/lihanrui2913/goext2/ext2"
	"github.com/stretchr/testify/require"
)

func TestParsePathRejectsRelative(t *testing.T) {
	_, err := ext2.ParsePath("etc/passwd")
	require.Error(t, err)
}

func TestParsePathRejectsOverlongName(t *testing.T) {
	name := make([]byte, 256)
	for i := range name {
		name[i] = 'a'
	}
	_, err := ext2.ParsePath("/" + string(name))
	require.Error(t, err)
}

func TestParsePathComponents(t *testing.T) {
	p, err := ext2.ParsePath("/usr/local/../bin/./ls")
	require.NoError(t, err)
	require.Len(t, p.Components, 7)
	require.Equal(t, ext2.RootDir, p.Components[0].Kind)
	require.Equal(t, "usr", p.Components[1].Name)
	require.Equal(t, "local", p.Components[2].Name)
	require.Equal(t, ext2.ParentDir, p.Components[3].Kind)
	require.Equal(t, "bin", p.Components[4].Name)
	require.Equal(t, ext2.CurDir, p.Components[5].Kind)
	require.Equal(t, "ls", p.Components[6].Name)
}

func TestParsePathDoubleSlashRoot(t *testing.T) {
	p, err := ext2.ParsePath("//foo")
	require.NoError(t, err)
	require.Equal(t, ext2.DoubleSlashRootDir, p.Components[0].Kind)

	p, err = ext2.ParsePath("///foo")
	require.NoError(t, err)
	require.Equal(t, ext2.RootDir, p.Components[0].Kind)
}

func TestPathCanonicalCollapsesDotAndDotDot(t *testing.T) {
	p, err := ext2.ParsePath("/a/b/../c/./d")
	require.NoError(t, err)
	c := p.Canonical()
	require.Equal(t, "/a/c/d", c.String())
}

func TestPathCanonicalParentOfRootStaysAtRoot(t *testing.T) {
	p, err := ext2.ParsePath("/../../etc")
	require.NoError(t, err)
	c := p.Canonical()
	require.Equal(t, "/etc", c.String())
}
