package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Magic constants of the formats the kitchen handles. Offsets follow the
// formats themselves: ext/erofs/f2fs keep their superblock at byte 1024, the
// dynamic-partition geometry block sits behind one 4096-byte reserved page.
const (
	sparseMagic = 0xed26ff3a
	extMagic    = 0xef53
	erofsMagic  = 0xe0f5e1e2
	f2fsMagic   = 0xf2f52010
	superMagic  = 0x616c4467
	dtboMagic   = 0xd7b7ab1e
	logoMagic   = "LOGO!!!!"

	superblockOffset  = 1024
	geometryOffset    = 4096
	logoHeaderOffset  = 4000
	classifyReadBytes = 8192
)

// Classify inspects the file at path and returns its format tag. It is a pure
// function of the file contents: no state, no side effects, and calling it
// twice on an unchanged file yields the same tag. Unreadable or too-short
// files classify as Unknown, never as an error.
func Classify(path string) Tag {
	if strings.HasSuffix(path, ".transfer.list") {
		return TransferList
	}

	f, err := os.Open(path)
	if err != nil {
		return Unknown
	}
	defer f.Close()

	head := make([]byte, classifyReadBytes)
	n, _ := f.Read(head)
	head = head[:n]

	if tag, ok := classifyHeader(head); ok {
		return tag
	}
	return Unknown
}

func classifyHeader(head []byte) (Tag, bool) {
	if len(head) < 8 {
		return Unknown, false
	}

	switch {
	case binary.LittleEndian.Uint32(head) == sparseMagic:
		return Sparse, true
	case binary.BigEndian.Uint32(head) == dtboMagic:
		return Dtbo, true
	case bytes.HasPrefix(head, []byte("ANDROID!")):
		return Boot, true
	case bytes.HasPrefix(head, []byte("VNDRBOOT")):
		return VendorBoot, true
	case bytes.HasPrefix(head, []byte("AVB0")):
		return Vbmeta, true
	case bytes.HasPrefix(head, []byte("CrAU")):
		return Payload, true
	case bytes.HasPrefix(head, []byte("-rom1fs-")):
		return Romfs, true
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return Zip, true
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return Gzip, true
	case bytes.HasPrefix(head, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return Xz, true
	case bytes.HasPrefix(head, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return Zstd, true
	case bytes.HasPrefix(head, []byte{0x04, 0x22, 0x4d, 0x18}):
		return Lz4, true
	}

	if len(head) >= logoHeaderOffset+len(logoMagic) &&
		bytes.Equal(head[logoHeaderOffset:logoHeaderOffset+len(logoMagic)], []byte(logoMagic)) {
		return Logo, true
	}
	if len(head) >= geometryOffset+4 &&
		binary.LittleEndian.Uint32(head[geometryOffset:]) == superMagic {
		return Super, true
	}
	if len(head) >= superblockOffset+1024 {
		sb := head[superblockOffset:]
		switch {
		case binary.LittleEndian.Uint16(sb[0x38:]) == extMagic:
			return Ext, true
		case binary.LittleEndian.Uint32(sb) == f2fsMagic:
			return F2fs, true
		case binary.LittleEndian.Uint32(sb) == erofsMagic:
			return Erofs, true
		}
	}
	return Unknown, false
}

// MountPoint reads the "last mounted at" field of an ext superblock. Stock
// firmware populates it at build time, which lets the kitchen tell a
// mislabeled payload apart from the partition it actually is.
func MountPoint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	// s_last_mounted lives at offset 0x88 inside the superblock, 64 bytes.
	buf := make([]byte, 64)
	if _, err := f.ReadAt(buf, superblockOffset+0x88); err != nil {
		return "", fmt.Errorf("failed to read superblock: %w", err)
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// GuessName derives a canonical partition name from a file path, stripping
// the extensions the unpack chain produces along the way.
func GuessName(path string) string {
	name := filepath.Base(path)
	for _, suffix := range []string{".zst", ".xz", ".br", ".img", ".new.dat", ".emmc"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}
