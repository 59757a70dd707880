package pathunpack

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format represents an archive or single-stream compression format.
type Format string

const (
	Unsupported Format = ""
	Zip         Format = "zip"
	Tar         Format = "tar"
	TarGz       Format = "tar.gz"
	TarBz2      Format = "tar.bz2"
	TarZst      Format = "tar.zst"
	TarXz       Format = "tar.xz"
	TarLz4      Format = "tar.lz4"
	Gz          Format = "gz"
	Bz2         Format = "bz2"
	Zst         Format = "zst"
	Xz          Format = "xz"
	Lz4         Format = "lz4"
)

// codec identifies the decompression filter placed in front of a tar reader
// or used on its own for single-stream formats.
type codec int

const (
	codecNone codec = iota
	codecGzip
	codecBzip2
	codecZstd
	codecXz
	codecLz4
)

var formatToString = map[Format]string{
	Zip:    "zip",
	Tar:    "tar",
	TarGz:  "tar.gz",
	TarBz2: "tar.bz2",
	TarZst: "tar.zst",
	TarXz:  "tar.xz",
	TarLz4: "tar.lz4",
	Gz:     "gz",
	Bz2:    "bz2",
	Zst:    "zst",
	Xz:     "xz",
	Lz4:    "lz4",
}

// formatRule maps one filename suffix to a format.
type formatRule struct {
	suffix string
	format Format
}

// formatRules is checked top to bottom and the first match wins. A rule must
// never be shadowed by an earlier rule that is a suffix of it, so compound
// suffixes (".tar.gz") are listed before their tails (".gz").
var formatRules = []formatRule{
	{".tar.gz", TarGz},
	{".tgz", TarGz},
	{".tar.bz2", TarBz2},
	{".tbz2", TarBz2},
	{".tar.zst", TarZst},
	{".tzst", TarZst},
	{".tar.xz", TarXz},
	{".txz", TarXz},
	{".tar.lz4", TarLz4},
	{".tar", Tar},
	{".zip", Zip},
	{".gz", Gz},
	{".bz2", Bz2},
	{".zst", Zst},
	{".xz", Xz},
	{".lz4", Lz4},
}

// DetectFormat infers the format of an archive from its file name. Matching is
// case-insensitive. It returns the matched suffix as it appears in the name, so
// raw-stream formats can strip it to derive their output name. Unknown names
// return Unsupported and an empty suffix.
func DetectFormat(name string) (Format, string) {
	base := filepath.Base(name)
	lower := strings.ToLower(base)
	for _, r := range formatRules {
		if strings.HasSuffix(lower, r.suffix) {
			return r.format, base[len(base)-len(r.suffix):]
		}
	}
	return Unsupported, ""
}

// IsArchiveName reports whether name carries a recognised archive suffix.
func IsArchiveName(name string) bool {
	f, _ := DetectFormat(name)
	return f != Unsupported
}

// IsTar reports whether the format is a tar container, compressed or not.
func (f Format) IsTar() bool {
	switch f {
	case Tar, TarGz, TarBz2, TarZst, TarXz, TarLz4:
		return true
	}
	return false
}

// IsStream reports whether the format is a single compressed stream without a container.
func (f Format) IsStream() bool {
	switch f {
	case Gz, Bz2, Zst, Xz, Lz4:
		return true
	}
	return false
}

func (f Format) codec() codec {
	switch f {
	case TarGz, Gz:
		return codecGzip
	case TarBz2, Bz2:
		return codecBzip2
	case TarZst, Zst:
		return codecZstd
	case TarXz, Xz:
		return codecXz
	case TarLz4, Lz4:
		return codecLz4
	default:
		return codecNone
	}
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	if f == Unsupported {
		return "unsupported"
	}
	return fmt.Sprintf("unknown_archive_format(%s)", string(f))
}
