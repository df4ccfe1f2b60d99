package format

// Tag identifies the concrete on-disk format of a partition artifact. The set
// is closed: the orchestrator dispatches on it exhaustively, and anything it
// cannot place is Unknown rather than a guess.
type Tag int

const (
	Unknown Tag = iota
	Raw
	Sparse
	Ext
	Erofs
	F2fs
	Romfs
	Super
	Dtbo
	Vbmeta
	Boot
	VendorBoot
	Payload
	TransferList
	Logo
	Zip
	Gzip
	Xz
	Zstd
	Lz4
)

var tagNames = map[Tag]string{
	Unknown:      "unknown",
	Raw:          "raw",
	Sparse:       "sparse",
	Ext:          "ext",
	Erofs:        "erofs",
	F2fs:         "f2fs",
	Romfs:        "romfs",
	Super:        "super",
	Dtbo:         "dtbo",
	Vbmeta:       "vbmeta",
	Boot:         "boot",
	VendorBoot:   "vendor_boot",
	Payload:      "payload",
	TransferList: "transfer_list",
	Logo:         "guoke_logo",
	Zip:          "zip",
	Gzip:         "gzip",
	Xz:           "xz",
	Zstd:         "zstd",
	Lz4:          "lz4",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTag maps a registry type string back to its Tag. Unrecognized strings
// come back as Unknown so stale registries never poison dispatch.
func ParseTag(s string) Tag {
	for tag, name := range tagNames {
		if name == s {
			return tag
		}
	}
	return Unknown
}

// IsFilesystem reports whether the tag names an extractable filesystem image.
func (t Tag) IsFilesystem() bool {
	switch t {
	case Ext, Erofs, F2fs, Romfs:
		return true
	}
	return false
}

// IsArchive reports whether the tag names a container that may hold nested
// firmware artifacts.
func (t Tag) IsArchive() bool {
	switch t {
	case Zip, Gzip, Xz, Zstd, Lz4:
		return true
	}
	return false
}
