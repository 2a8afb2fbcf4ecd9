//go:build linux

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux input constants used by the multi-touch device.
const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03

	synReport = 0x00
	btnTouch  = 0x14A

	absMTSlot       = 0x2F
	absMTTouchMajor = 0x30
	absMTWidthMajor = 0x32
	absMTPositionX  = 0x35
	absMTPositionY  = 0x36
	absMTTrackingID = 0x39

	inputPropDirect = 0x01
	busI2C          = 0x18
	absCnt          = 0x40
	maxNameSize     = 80
	maxWidth        = 255
)

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocNone  = 0
	iocWrite = 1
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr(dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

var (
	uiDevCreate  = ioc(iocNone, 'U', 1, 0)
	uiDevDestroy = ioc(iocNone, 'U', 2, 0)
	uiSetEvBit   = ioc(iocWrite, 'U', 100, 4)
	uiSetKeyBit  = ioc(iocWrite, 'U', 101, 4)
	uiSetAbsBit  = ioc(iocWrite, 'U', 103, 4)
	uiSetPropBit = ioc(iocWrite, 'U', 110, 4)
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputUserDev is struct uinput_user_dev.
type uinputUserDev struct {
	Name       [maxNameSize]byte
	ID         inputID
	EffectsMax uint32
	Absmax     [absCnt]int32
	Absmin     [absCnt]int32
	Absfuzz    [absCnt]int32
	Absflat    [absCnt]int32
}

// inputEvent is struct input_event; unix.Timeval gives it the right size
// on both 32- and 64-bit kernels.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Uinput is a type-B multi-touch device fed from userspace. Methods queue
// events; Sync writes them as one report.
type Uinput struct {
	fd      int
	ids     []int32 // tracking id per slot, -1 when lifted
	nextID  int32
	keys    []uint16
	pending []inputEvent
}

func ioctl(fd int, req uintptr, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg); errno != 0 {
		return errno
	}
	return nil
}

// OpenUinput creates the device through /dev/uinput.
func OpenUinput(c UinputConfig) (*Uinput, error) {
	fd, err := unix.Open("/dev/uinput", unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open uinput: %w", err)
	}
	u := &Uinput{fd: fd, ids: make([]int32, c.Slots)}
	for i := range u.ids {
		u.ids[i] = -1
	}
	n := c.Buttons
	if n > len(ButtonKeys) {
		n = len(ButtonKeys)
	}
	u.keys = ButtonKeys[:n]

	if err := u.setup(c); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return u, nil
}

func (u *Uinput) setup(c UinputConfig) error {
	bits := []struct {
		req uintptr
		val int
	}{
		{uiSetEvBit, evSyn},
		{uiSetEvBit, evKey},
		{uiSetEvBit, evAbs},
		{uiSetKeyBit, btnTouch},
		{uiSetPropBit, inputPropDirect},
		{uiSetAbsBit, absMTSlot},
		{uiSetAbsBit, absMTTrackingID},
		{uiSetAbsBit, absMTPositionX},
		{uiSetAbsBit, absMTPositionY},
		{uiSetAbsBit, absMTTouchMajor},
		{uiSetAbsBit, absMTWidthMajor},
	}
	for _, k := range u.keys {
		bits = append(bits, struct {
			req uintptr
			val int
		}{uiSetKeyBit, int(k)})
	}
	for _, b := range bits {
		if err := ioctl(u.fd, b.req, uintptr(b.val)); err != nil {
			return fmt.Errorf("uinput setup %#x: %w", b.val, err)
		}
	}

	var dev uinputUserDev
	copy(dev.Name[:maxNameSize-1], c.Name)
	dev.ID = inputID{Bustype: busI2C, Vendor: 0x5A49, Product: 0x0532, Version: 1}
	dev.Absmax[absMTSlot] = int32(c.Slots - 1)
	dev.Absmax[absMTTrackingID] = 0xFFFF
	dev.Absmax[absMTPositionX] = int32(c.MaxX)
	dev.Absmax[absMTPositionY] = int32(c.MaxY)
	dev.Absmax[absMTTouchMajor] = maxWidth
	dev.Absmax[absMTWidthMajor] = maxWidth
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&dev)), unsafe.Sizeof(dev))
	if _, err := unix.Write(u.fd, raw); err != nil {
		return fmt.Errorf("uinput dev: %w", err)
	}
	if err := ioctl(u.fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("uinput create: %w", err)
	}
	return nil
}

func (u *Uinput) queue(typ, code uint16, v int32) {
	u.pending = append(u.pending, inputEvent{Type: typ, Code: code, Value: v})
}

// Contact reports slot at x, y, starting a new track if the slot was empty.
func (u *Uinput) Contact(slot int, x, y uint16, width uint8) {
	if slot < 0 || slot >= len(u.ids) {
		return
	}
	u.queue(evAbs, absMTSlot, int32(slot))
	if u.ids[slot] < 0 {
		u.ids[slot] = u.nextID
		u.nextID = (u.nextID + 1) & 0xFFFF
		u.queue(evAbs, absMTTrackingID, u.ids[slot])
	}
	u.queue(evAbs, absMTPositionX, int32(x))
	u.queue(evAbs, absMTPositionY, int32(y))
	u.queue(evAbs, absMTTouchMajor, int32(width))
	u.queue(evAbs, absMTWidthMajor, int32(width))
}

// Lift ends the track in slot.
func (u *Uinput) Lift(slot int) {
	if slot < 0 || slot >= len(u.ids) || u.ids[slot] < 0 {
		return
	}
	u.ids[slot] = -1
	u.queue(evAbs, absMTSlot, int32(slot))
	u.queue(evAbs, absMTTrackingID, -1)
}

// Key reports button i.
func (u *Uinput) Key(i int, down bool) {
	if i < 0 || i >= len(u.keys) {
		return
	}
	var v int32
	if down {
		v = 1
	}
	u.queue(evKey, u.keys[i], v)
}

// Sync writes the queued events followed by BTN_TOUCH and a report.
func (u *Uinput) Sync() error {
	if len(u.pending) == 0 {
		return nil
	}
	var touching int32
	for _, id := range u.ids {
		if id >= 0 {
			touching = 1
			break
		}
	}
	u.queue(evKey, btnTouch, touching)
	u.queue(evSyn, synReport, 0)
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&u.pending[0])), uintptr(len(u.pending))*unsafe.Sizeof(inputEvent{}))
	_, err := unix.Write(u.fd, raw)
	u.pending = u.pending[:0]
	return err
}

// Close destroys the device.
func (u *Uinput) Close() error {
	_ = ioctl(u.fd, uiDevDestroy, 0)
	return unix.Close(u.fd)
}
