//go:build !linux

package platform

import "periph.io/x/conn/v3/i2c"

type Board struct {
	Bus   i2c.BusCloser
	Int   *IntPin
	Power *PowerPin
}

func Open(Config) (*Board, error) { return nil, ErrUnsupported }

func (b *Board) Close() error { return nil }

type PowerPin struct{}

func (*PowerPin) SetPower(bool) error { return ErrUnsupported }

type IntPin struct{}

func (*IntPin) Get() bool           { return true }
func (*IntPin) SetIRQ(func()) error { return ErrUnsupported }
func (*IntPin) ClearIRQ() error     { return nil }

type Uinput struct{}

func OpenUinput(UinputConfig) (*Uinput, error) { return nil, ErrUnsupported }

func (*Uinput) Contact(int, uint16, uint16, uint8) {}
func (*Uinput) Lift(int)                           {}
func (*Uinput) Key(int, bool)                      {}
func (*Uinput) Sync() error                        { return ErrUnsupported }
func (*Uinput) Close() error                       { return nil }
