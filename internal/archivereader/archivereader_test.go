package archivereader

import (
	"fmt"
	"testing"
)

// fakeReaderAt is an in-memory io.ReaderAt for synthesizing archives.
type fakeReaderAt []byte

func (f fakeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at %#x", off)
	}
	return n, nil
}

// arMember appends one 60-byte ar header plus content (padded to even)
// to buf and returns the new buffer.
func arMember(buf []byte, name string, content []byte) []byte {
	var hdr [headerSize]byte
	copy(hdr[0:16], fmt.Sprintf("%-16s", name))
	copy(hdr[16:28], fmt.Sprintf("%-12s", "0"))    // mtime
	copy(hdr[28:34], fmt.Sprintf("%-6s", "0"))     // uid
	copy(hdr[34:40], fmt.Sprintf("%-6s", "0"))     // gid
	copy(hdr[40:48], fmt.Sprintf("%-8s", "644"))   // mode
	copy(hdr[48:58], fmt.Sprintf("%-10d", len(content)))
	hdr[58], hdr[59] = '`', '\n'
	buf = append(buf, hdr[:]...)
	buf = append(buf, content...)
	if len(content)%2 != 0 {
		buf = append(buf, '\n')
	}
	return buf
}

func TestNewIndexesMembersSkippingSymdefAndLongNames(t *testing.T) {
	buf := []byte(globalHeader)
	buf = arMember(buf, "__.SYMDEF", []byte("ignored-index-bytes"))
	buf = arMember(buf, "//", []byte("long-member-name.o/\n"))
	buf = arMember(buf, "foo.o/", []byte("aa"))
	buf = arMember(buf, "bar.o/", []byte("bbb"))

	r, err := New("libfoo.a", fakeReaderAt(buf), int64(len(buf)), 1, 0, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(r.members) != 2 {
		t.Fatalf("want 2 members (SYMDEF excluded), got %d: %+v", len(r.members), r.members)
	}
	if r.members[0].Name != "foo.o" || r.members[1].Name != "bar.o" {
		t.Fatalf("want names foo.o, bar.o, got %s, %s", r.members[0].Name, r.members[1].Name)
	}
	if r.members[0].Size != 2 || r.members[1].Size != 3 {
		t.Fatalf("want sizes 2,3, got %d,%d", r.members[0].Size, r.members[1].Size)
	}
}

func TestNewRejectsNonArchive(t *testing.T) {
	buf := []byte("not an archive at all!!")
	if _, err := New("x.a", fakeReaderAt(buf), int64(len(buf)), 1, 0, nil, Options{}); err == nil {
		t.Fatalf("want error for bad magic")
	}
}

func TestResolveNameExpandsGNULongName(t *testing.T) {
	longNames := "a/very/long/member/name.o/\nshort.o/\n"
	got := resolveName("/0", longNames)
	if got != "a/very/long/member/name.o" {
		t.Fatalf("resolveName(/0) = %q", got)
	}
	got = resolveName("foo.o", longNames)
	if got != "foo.o" {
		t.Fatalf("resolveName with no leading slash should pass through, got %q", got)
	}
}

func TestReadMemberHeaderPadsOddSizeToEven(t *testing.T) {
	buf := []byte(globalHeader)
	buf = arMember(buf, "odd.o/", []byte("x")) // 1 byte, odd

	name, size, next, err := readMemberHeader(fakeReaderAt(buf), int64(len(globalHeader)))
	if err != nil {
		t.Fatalf("readMemberHeader: %v", err)
	}
	if name != "odd.o" || size != 1 {
		t.Fatalf("want name=odd.o size=1, got name=%q size=%d", name, size)
	}
	wantNext := int64(len(globalHeader)) + headerSize + 1 + 1 // +1 pad byte
	if next != wantNext {
		t.Fatalf("want next=%#x, got %#x", wantNext, next)
	}
	if int(next) != len(buf) {
		t.Fatalf("synthesized buffer length %d should match computed next %d", len(buf), next)
	}
}
