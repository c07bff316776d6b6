package encoding

// amqpType is a wire type-code octet from the AMQP 1.0 primitive type system
// (§1 of the type system spec). Only the subset needed to carry the nine core
// performatives and simple application messages is implemented; the engine
// treats the codec as a pure function it calls through, not a concern of its
// own (see SPEC_FULL.md §1).
type amqpType uint8

const (
	typeCodeNull amqpType = 0x40

	typeCodeBoolTrue  amqpType = 0x41
	typeCodeBoolFalse amqpType = 0x42
	typeCodeBool      amqpType = 0x56

	typeCodeUbyte  amqpType = 0x50
	typeCodeUshort amqpType = 0x60
	typeCodeUint   amqpType = 0x70
	typeCodeUint0  amqpType = 0x43
	typeCodeSmallUint amqpType = 0x52
	typeCodeUlong     amqpType = 0x80
	typeCodeUlong0    amqpType = 0x44
	typeCodeSmallUlong amqpType = 0x53

	typeCodeByte  amqpType = 0x51
	typeCodeShort amqpType = 0x61
	typeCodeInt   amqpType = 0x71
	typeCodeSmallInt amqpType = 0x54
	typeCodeLong     amqpType = 0x81
	typeCodeSmallLong amqpType = 0x55

	typeCodeFloat  amqpType = 0x72
	typeCodeDouble amqpType = 0x82

	typeCodeTimestamp amqpType = 0x83
	typeCodeUUID      amqpType = 0x98

	typeCodeVbin8  amqpType = 0xa0
	typeCodeVbin32 amqpType = 0xb0

	typeCodeStr8  amqpType = 0xa1
	typeCodeStr32 amqpType = 0xb1

	typeCodeSym8  amqpType = 0xa3
	typeCodeSym32 amqpType = 0xb3

	typeCodeList0  amqpType = 0x45
	typeCodeList8  amqpType = 0xc0
	typeCodeList32 amqpType = 0xd0

	typeCodeMap8  amqpType = 0xc1
	typeCodeMap32 amqpType = 0xd1

	typeCodeArray8  amqpType = 0xe0
	typeCodeArray32 amqpType = 0xf0
)

// Performative / section descriptor codes (low 32 bits of the AMQP
// 0x00000000:0x0000000X described-type descriptor).
const (
	TypeCodeOpen        amqpType = 0x10
	TypeCodeBegin       amqpType = 0x11
	TypeCodeAttach      amqpType = 0x12
	TypeCodeFlow        amqpType = 0x13
	TypeCodeTransfer    amqpType = 0x14
	TypeCodeDisposition amqpType = 0x15
	TypeCodeDetach      amqpType = 0x16
	TypeCodeEnd         amqpType = 0x17
	TypeCodeClose       amqpType = 0x18

	TypeCodeSource amqpType = 0x28
	TypeCodeTarget amqpType = 0x29
	TypeCodeError  amqpType = 0x1d

	TypeCodeStateReceived amqpType = 0x23
	TypeCodeStateAccepted amqpType = 0x24
	TypeCodeStateRejected amqpType = 0x25
	TypeCodeStateReleased amqpType = 0x26
	TypeCodeStateModified amqpType = 0x27

	TypeCodeApplicationProperties amqpType = 0x74
	TypeCodeApplicationData       amqpType = 0x75
	TypeCodeAmqpValue             amqpType = 0x77
)
