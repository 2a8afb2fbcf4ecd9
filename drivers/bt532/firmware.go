package bt532

import "fmt"

// Firmware image header offsets.
const (
	imgHardwareID  = 0x30
	imgMainVersion = 0x34
	imgMinor       = 0x38
	imgRegData     = 0x3C
	imgSizeA       = 0x61 // 24-bit big-endian
	imgSizeB       = 0x65 // 24-bit big-endian
	imgPageShift   = 0x6D
	imgHeaderLen   = 0x70
)

// Image is a firmware blob as supplied by the loader. It is never modified.
type Image struct {
	data []byte
}

// ParseImage checks b is long enough to carry a header.
func ParseImage(b []byte) (*Image, error) {
	if len(b) < imgHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadImage, len(b))
	}
	return &Image{data: b}, nil
}

func (im *Image) Len() int           { return len(im.data) }
func (im *Image) Bytes() []byte      { return im.data }
func (im *Image) HardwareID() uint16 { return le16(im.data[imgHardwareID:]) }

// Versions reads the build identity from the header.
func (im *Image) Versions() Versions {
	return Versions{
		Major:   le16(im.data[imgMainVersion:]),
		Minor:   le16(im.data[imgMinor:]),
		RegData: le16(im.data[imgRegData:]),
	}
}

// PayloadSize is the flashed length encoded in the header, 0 if absent.
func (im *Image) PayloadSize() int {
	return be24(im.data[imgSizeA:]) + be24(im.data[imgSizeB:])
}

// PageSize is the erase/program page size encoded in the header.
func (im *Image) PageSize() int {
	s := im.data[imgPageShift]
	if s == 0 || s > 15 {
		return 0
	}
	return 1 << s
}

func be24(b []byte) int { return int(b[0])<<16 | int(b[1])<<8 | int(b[2]) }

// Compare orders versions by major, then minor, then register-data version.
func Compare(a, b Versions) int {
	switch {
	case a.Major != b.Major:
		return cmp16(a.Major, b.Major)
	case a.Minor != b.Minor:
		return cmp16(a.Minor, b.Minor)
	default:
		return cmp16(a.RegData, b.RegData)
	}
}

func cmp16(a, b uint16) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Identity is what NeedsUpdate compares.
type Identity struct {
	Versions   Versions
	HardwareID uint16
}

// NeedsUpdate reports whether img should replace what the chip runs.
// A hardware-id mismatch (when checked) or an unprogrammed major version
// always updates; otherwise only a strictly newer image does.
func NeedsUpdate(img, cur Identity, checkHW bool) bool {
	if checkHW && img.HardwareID != cur.HardwareID {
		return true
	}
	if cur.Versions.Major > unprogrammedMajor {
		return true
	}
	return Compare(img.Versions, cur.Versions) > 0
}

// Directive tells bringup what to do with the flash.
type Directive uint8

const (
	FirmwareSkip Directive = iota
	FirmwareNormal
	FirmwareForce
)

func (d Directive) String() string {
	switch d {
	case FirmwareSkip:
		return "skip"
	case FirmwareNormal:
		return "normal"
	case FirmwareForce:
		return "force"
	default:
		return "unknown"
	}
}
