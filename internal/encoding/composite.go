package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
)

// Field is one entry in a composite's (performative's) field list. Value
// should be a pointer so that Unmarshal-by-reference works the same way
// Marshal does.
type Field struct {
	Value interface{}
	Omit  bool
}

// MarshalComposite writes a described-list composite: the descriptor for
// code, followed by a list whose trailing omitted fields are dropped
// entirely (not even encoded as null) - this is the same compaction the
// teacher's own marshalComposite performs, and it is what keeps an Open with
// no optional fields down to a handful of bytes on the wire.
func MarshalComposite(wr *buffer.Buffer, code amqpType, fields []Field) error {
	lastSet := -1
	for i, f := range fields {
		if !f.Omit {
			lastSet = i
		}
	}

	if lastSet == -1 {
		_, err := wr.Write([]byte{0x0, byte(typeCodeSmallUlong), byte(code), byte(typeCodeList0)})
		return err
	}

	WriteDescriptor(wr, code)
	wr.WriteByte(byte(typeCodeList32))

	sizeIdx := wr.Len()
	wr.Write([]byte{0, 0, 0, 0})
	preLen := wr.Len()
	wr.WriteUint32(uint32(lastSet + 1))

	for _, f := range fields[:lastSet+1] {
		if f.Omit {
			wr.WriteByte(byte(typeCodeNull))
			continue
		}
		if err := Marshal(wr, f.Value); err != nil {
			return err
		}
	}

	size := uint32(wr.Len() - preLen)
	buf := wr.Bytes()
	binary.BigEndian.PutUint32(buf[sizeIdx:], size)
	return nil
}

// UField is one entry in a composite's field list on the unmarshal side.
// Field must be a pointer; HandleNull, if set, runs when the wire value was
// null (applying a default or reporting a missing mandatory field). Decode,
// if set, takes over decoding the field entirely — used by fields whose type
// lives outside this package (e.g. frames.Source/frames.Target) and so can't
// be named in this package's generic type switch.
type UField struct {
	Field      interface{}
	HandleNull func() error
	Decode     func(*buffer.Buffer) error
}

// UnmarshalComposite reads a described-list composite previously written by
// MarshalComposite, verifying the descriptor matches code.
func UnmarshalComposite(rd *buffer.Buffer, code amqpType, fields ...UField) error {
	gotCode, err := readCompositeHeader(rd)
	if err != nil {
		return err
	}
	if gotCode != code {
		return fmt.Errorf("encoding: invalid composite header 0x%x, expected 0x%x", gotCode, code)
	}

	listLen, count, err := readListHeader(rd)
	_ = listLen
	if err != nil {
		return err
	}

	for i := 0; i < int(count) && i < len(fields); i++ {
		f := fields[i]
		isNull, err := fieldIsNull(rd)
		if err != nil {
			return err
		}
		if isNull {
			rd.ReadByte()
			if f.HandleNull != nil {
				if err := f.HandleNull(); err != nil {
					return err
				}
			}
			continue
		}
		if f.Decode != nil {
			if err := f.Decode(rd); err != nil {
				return err
			}
			continue
		}
		if err := Unmarshal(rd, f.Field); err != nil {
			return err
		}
	}

	// Fields present on the wire beyond what this engine understands are
	// skipped: forward-compatibility is cheap sympathy toward newer peers,
	// not a feature the core needs to parse.
	for i := len(fields); i < int(count); i++ {
		if _, err := readAny(rd); err != nil {
			return err
		}
	}

	// Declared-but-absent mandatory fields run their HandleNull too.
	for i := int(count); i < len(fields); i++ {
		if fields[i].HandleNull != nil {
			if err := fields[i].HandleNull(); err != nil {
				return err
			}
		}
	}

	return nil
}

func fieldIsNull(rd *buffer.Buffer) (bool, error) {
	peek := rd.Peek(1)
	if len(peek) == 0 {
		return false, fmt.Errorf("encoding: unexpected end of buffer reading field")
	}
	return amqpType(peek[0]) == typeCodeNull, nil
}

func readCompositeHeader(rd *buffer.Buffer) (amqpType, error) {
	b, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != 0x0 {
		return 0, fmt.Errorf("encoding: expected described-type constructor, got 0x%x", b)
	}
	codeType, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	switch amqpType(codeType) {
	case typeCodeSmallUlong:
		code, err := rd.ReadByte()
		return amqpType(code), err
	case typeCodeUlong:
		code, err := rd.ReadUint64()
		return amqpType(code), err
	default:
		return 0, fmt.Errorf("encoding: unsupported descriptor type code 0x%x", codeType)
	}
}

func readListHeader(rd *buffer.Buffer) (size uint32, count uint32, err error) {
	b, err := rd.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	switch amqpType(b) {
	case typeCodeList0:
		return 0, 0, nil
	case typeCodeList8:
		sz, err := rd.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		cnt, err := rd.ReadByte()
		return uint32(sz), uint32(cnt), err
	case typeCodeList32:
		sz, err := rd.ReadUint32()
		if err != nil {
			return 0, 0, err
		}
		cnt, err := rd.ReadUint32()
		return sz, cnt, err
	default:
		return 0, 0, fmt.Errorf("encoding: invalid list type code 0x%x", b)
	}
}
