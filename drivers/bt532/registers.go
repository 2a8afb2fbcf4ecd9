package bt532

// 7-bit I²C address.
const AddressDefault = 0x20

// Commands (register address written with no payload).
const (
	CmdSoftReset     uint16 = 0x0000
	CmdWake          uint16 = 0x0001
	CmdClearInt      uint16 = 0x0003
	CmdIdle          uint16 = 0x0004
	CmdSleep         uint16 = 0x0005
	CmdCalibrate     uint16 = 0x0006
	CmdSaveStatus    uint16 = 0x0007
	CmdSaveCal       uint16 = 0x0008
	CmdRecallFactory uint16 = 0x000F
)

// Register map (16-bit addresses, 16-bit little-endian values unless noted).
const (
	RegTouchMode        uint16 = 0x0010
	RegChipRevision     uint16 = 0x0011 // 8-byte block: revision, fw, data version, hw id
	RegFirmwareVersion  uint16 = 0x0012
	RegDataVersion      uint16 = 0x0013
	RegHardwareID       uint16 = 0x0014
	RegSupportedFingers uint16 = 0x0015
	RegEEPROMInfo       uint16 = 0x0018
	RegInitialTouchMode uint16 = 0x0019
	RegVendorID         uint16 = 0x001C
	RegThreshold        uint16 = 0x0020

	RegXNodes uint16 = 0x0060
	RegYNodes uint16 = 0x0061

	RegRawDelay    uint16 = 0x007F
	RegPointStatus uint16 = 0x0080
	RegIconStatus  uint16 = 0x00AA

	RegButtonCount  uint16 = 0x00B0
	RegXResolution  uint16 = 0x00C0
	RegYResolution  uint16 = 0x00C1
	RegIntMask      uint16 = 0x00F0
	RegPeriodicIntv uint16 = 0x00F1

	RegAFEFrequency  uint16 = 0x0100
	RegDebug         uint16 = 0x0115
	RegOptional      uint16 = 0x0116
	RegMinorVersion  uint16 = 0x0121
	RegDNDNCount     uint16 = 0x0122
	RegDNDShift      uint16 = 0x012B
	RegChecksum      uint16 = 0x012C
	RegDNDUCount     uint16 = 0x0135
	RegCoverControl  uint16 = 0x023E
	RegFlashInit     uint16 = 0x01D0
	RegFlashWrite    uint16 = 0x01D1
	RegFlashRead     uint16 = 0x01D2
	RegFlashReadMode uint16 = 0x01D3
	CmdFlashFlush    uint16 = 0x01DD
)

// Vendor (programming-mode) registers.
const (
	VRegCmdEnable    uint16 = 0xC000
	VRegProgStart    uint16 = 0xC001
	VRegNVMInit      uint16 = 0xC002
	VRegNVMVpp       uint16 = 0xC003
	VCmdIntClear     uint16 = 0xC004
	VRegWriteEnable  uint16 = 0xC104
	VRegClockSpeed   uint16 = 0xC201
	VRegChipCode     uint16 = 0xCC00
	clockSpeedBurst  uint16 = 0x00BE
	flashBurstMode   uint16 = 0x0002
	flashReadSectors uint16 = 0x0008
	coverOpen        uint16 = 0x0200
	rawDelayForHost  uint16 = 10000
)

// Non-volatile ledger area.
const (
	NVBase      uint16 = 0xF0A0
	CmdNVLock   uint16 = 0xF0F6
	CmdNVSave   uint16 = 0xF0F8
	CmdNVUnlock uint16 = 0xF0FA
	nvMaxLen           = 8
)

// ChecksumGood is what the firmware leaves in RegChecksum after a clean boot.
const ChecksumGood uint16 = 0x55AA

// Chip codes read from VRegChipCode.
const (
	ChipBT43X  uint16 = 0xE200
	ChipBT53X  uint16 = 0xF400
	ChipZT7532 uint16 = 0xE532
	ChipZT7538 uint16 = 0xE538
	ChipZT7548 uint16 = 0xE548
	ChipZT7554 uint16 = 0xE700
)

// Point-status word bits.
const (
	StatusCountChange = 0
	StatusDown        = 1
	StatusMove        = 2
	StatusUp          = 3
	StatusPalm        = 4
	StatusPalmReject  = 5
	StatusGesture     = 6
	StatusWeight      = 8
	StatusNoChange    = 9
	StatusReject      = 10
	StatusPointExist  = 11
	StatusMustZero    = 13
	StatusDebug       = 14
	StatusButton      = 15
)

// Per-slot sub-status bits.
const (
	SubExist = 0
	SubDown  = 1
	SubMove  = 2
	SubUp    = 3
)

// Touch modes.
const (
	ModePoint     uint16 = 0
	ModeDelta     uint16 = 3
	ModeNormal    uint16 = 5
	ModeReference uint16 = 8
	ModeRef       uint16 = 10
	ModeDND       uint16 = 11
	ModeHFDND     uint16 = 12
	ModeTxShort   uint16 = 13
	ModeRxShort   uint16 = 14
	ModeJitter    uint16 = 15
	ModeSelfDND   uint16 = 17
	ModeSEC       uint16 = 48
)

// Ledger layout. The test byte and the record base are relative to NVBase;
// the field offsets are relative to the record base.
const (
	LedgerTestData   uint16 = 0x00
	LedgerRecord     uint16 = 0x02
	ledgerCountOff   uint16 = 0x00
	ledgerDummyOff   uint16 = 0x02
	ledgerFixOff     uint16 = 0x04
	ledgerRecordSize        = 6
)

// Ledger constants.
const (
	CalMaxLCIA  = 0x80
	CalMaxMagic = 0xF5
	CalMagic    = 0x83
	CalUnset    = 0xFF
)

// Flip flags.
const (
	FlipV    = 0x01
	FlipH    = 0x02
	SwapXY   = 0x04
	flipMask = FlipV | FlipH | SwapXY
)

// Fixed limits and counts.
const (
	MaxFingers          = 10
	MaxButtons          = 8
	DefaultFingers      = 5
	InitRetryCount      = 3
	readRetries         = 8
	coordRetries        = 10
	staleClearCount     = 10
	scanRateHz          = 1000
	esdIntervalSecs     = 1
	coordRecordSize     = 6
	frameHeaderSize     = 4
	identityBlockSize   = 8
	palmWidth           = 200
	palmRejectWidth     = 255
	invalidWord         = 0xFFFF
	statusTornCountOnly = 0x0001
	unprogrammedMajor   = 0x00FF
)
