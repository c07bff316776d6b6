package encoding

import (
	"fmt"
	"time"

	"github.com/amqpcore/amqp10/internal/buffer"
)

// unmarshaler is implemented by described types that know how to read
// themselves back off the wire.
type unmarshaler interface {
	Unmarshal(*buffer.Buffer) error
}

// Unmarshal reads the AMQP encoding of the next value in rd into i, which
// must be a pointer. It mirrors Marshal's dispatch: described types implement
// their own Unmarshal, everything else goes through the primitive type
// switch.
func Unmarshal(rd *buffer.Buffer, i interface{}) error {
	if u, ok := i.(unmarshaler); ok {
		return u.Unmarshal(rd)
	}

	code, null, err := peekType(rd)
	if err != nil {
		return err
	}
	if null {
		rd.ReadByte()
		return nil
	}

	switch v := i.(type) {
	case **Error:
		e := &Error{}
		if err := e.Unmarshal(rd); err != nil {
			return err
		}
		*v = e
		return nil
	case *interface{}:
		*v, err = readAny(rd)
		return err
	case **uint8:
		b, err := readUbyte(rd)
		if err != nil {
			return err
		}
		*v = &b
		return nil
	case **uint16:
		n, err := readUshort(rd)
		if err != nil {
			return err
		}
		*v = &n
		return nil
	case **uint32:
		n, err := readUint(rd)
		if err != nil {
			return err
		}
		*v = &n
		return nil
	case **uint64:
		n, err := readUlong(rd)
		if err != nil {
			return err
		}
		*v = &n
		return nil
	case *bool:
		b, err := readBool(rd)
		if err != nil {
			return err
		}
		*v = b
		return nil
	case *uint8:
		*v, err = readUbyte(rd)
		return err
	case *uint16:
		*v, err = readUshort(rd)
		return err
	case *uint32:
		*v, err = readUint(rd)
		return err
	case *uint64:
		*v, err = readUlong(rd)
		return err
	case *string:
		*v, err = readString(rd)
		return err
	case *[]byte:
		*v, err = readBinary(rd)
		return err
	case *Symbol:
		*v, err = readSymbol(rd)
		return err
	case *time.Duration:
		n, err := readUint(rd)
		if err != nil {
			return err
		}
		*v = time.Duration(n) * time.Millisecond
		return nil
	case *time.Time:
		*v, err = readTimestamp(rd)
		return err
	case *map[string]interface{}:
		*v, err = readStringMap(rd)
		return err
	case *map[Symbol]interface{}:
		*v, err = readSymbolMap(rd)
		return err
	default:
		return fmt.Errorf("encoding: unmarshal not implemented for %T (type code 0x%x)", i, code)
	}
}

// peekType inspects the next type octet without consuming field bytes beyond
// the code itself for described-null handling.
func peekType(rd *buffer.Buffer) (amqpType, bool, error) {
	peek := rd.Peek(1)
	if len(peek) == 0 {
		return 0, false, fmt.Errorf("encoding: unexpected end of buffer")
	}
	code := amqpType(peek[0])
	return code, code == typeCodeNull, nil
}

func readBool(rd *buffer.Buffer) (bool, error) {
	b, err := rd.ReadByte()
	if err != nil {
		return false, err
	}
	switch amqpType(b) {
	case typeCodeBoolTrue:
		return true, nil
	case typeCodeBoolFalse:
		return false, nil
	case typeCodeBool:
		v, err := rd.ReadByte()
		return v != 0, err
	case typeCodeNull:
		return false, nil
	default:
		return false, fmt.Errorf("encoding: invalid bool type code 0x%x", b)
	}
}

func readUbyte(rd *buffer.Buffer) (uint8, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	if amqpType(code) == typeCodeNull {
		return 0, nil
	}
	return rd.ReadByte()
}

func readUshort(rd *buffer.Buffer) (uint16, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	if amqpType(code) == typeCodeNull {
		return 0, nil
	}
	return rd.ReadUint16()
}

func readUint(rd *buffer.Buffer) (uint32, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	switch amqpType(code) {
	case typeCodeNull, typeCodeUint0:
		return 0, nil
	case typeCodeSmallUint:
		b, err := rd.ReadByte()
		return uint32(b), err
	case typeCodeUint:
		return rd.ReadUint32()
	default:
		return 0, fmt.Errorf("encoding: invalid uint type code 0x%x", code)
	}
}

func readUlong(rd *buffer.Buffer) (uint64, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	switch amqpType(code) {
	case typeCodeNull, typeCodeUlong0:
		return 0, nil
	case typeCodeSmallUlong:
		b, err := rd.ReadByte()
		return uint64(b), err
	case typeCodeUlong:
		return rd.ReadUint64()
	default:
		return 0, fmt.Errorf("encoding: invalid ulong type code 0x%x", code)
	}
}

func readString(rd *buffer.Buffer) (string, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return "", err
	}
	var n int64
	switch amqpType(code) {
	case typeCodeNull:
		return "", nil
	case typeCodeStr8:
		b, err := rd.ReadByte()
		if err != nil {
			return "", err
		}
		n = int64(b)
	case typeCodeStr32:
		ln, err := rd.ReadUint32()
		if err != nil {
			return "", err
		}
		n = int64(ln)
	default:
		return "", fmt.Errorf("encoding: invalid string type code 0x%x", code)
	}
	buf, ok := rd.Next(n)
	if !ok {
		return "", fmt.Errorf("encoding: truncated string")
	}
	return string(buf), nil
}

func readSymbol(rd *buffer.Buffer) (Symbol, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return "", err
	}
	var n int64
	switch amqpType(code) {
	case typeCodeNull:
		return "", nil
	case typeCodeSym8:
		b, err := rd.ReadByte()
		if err != nil {
			return "", err
		}
		n = int64(b)
	case typeCodeSym32:
		ln, err := rd.ReadUint32()
		if err != nil {
			return "", err
		}
		n = int64(ln)
	default:
		return "", fmt.Errorf("encoding: invalid symbol type code 0x%x", code)
	}
	buf, ok := rd.Next(n)
	if !ok {
		return "", fmt.Errorf("encoding: truncated symbol")
	}
	return Symbol(buf), nil
}

func readBinary(rd *buffer.Buffer) ([]byte, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return nil, err
	}
	var n int64
	switch amqpType(code) {
	case typeCodeNull:
		return nil, nil
	case typeCodeVbin8:
		b, err := rd.ReadByte()
		if err != nil {
			return nil, err
		}
		n = int64(b)
	case typeCodeVbin32:
		ln, err := rd.ReadUint32()
		if err != nil {
			return nil, err
		}
		n = int64(ln)
	default:
		return nil, fmt.Errorf("encoding: invalid binary type code 0x%x", code)
	}
	buf, ok := rd.Next(n)
	if !ok {
		return nil, fmt.Errorf("encoding: truncated binary")
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func readTimestamp(rd *buffer.Buffer) (time.Time, error) {
	code, err := rd.ReadByte()
	if err != nil {
		return time.Time{}, err
	}
	if amqpType(code) == typeCodeNull {
		return time.Time{}, nil
	}
	ms, err := rd.ReadUint64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)), nil
}

func readAny(rd *buffer.Buffer) (interface{}, error) {
	code, null, err := peekType(rd)
	if err != nil {
		return nil, err
	}
	if null {
		rd.ReadByte()
		return nil, nil
	}
	switch code {
	case typeCodeBoolTrue, typeCodeBoolFalse, typeCodeBool:
		return readBool(rd)
	case typeCodeUbyte:
		return readUbyte(rd)
	case typeCodeUshort:
		return readUshort(rd)
	case typeCodeUint, typeCodeUint0, typeCodeSmallUint:
		return readUint(rd)
	case typeCodeUlong, typeCodeUlong0, typeCodeSmallUlong:
		return readUlong(rd)
	case typeCodeStr8, typeCodeStr32:
		return readString(rd)
	case typeCodeSym8, typeCodeSym32:
		return readSymbol(rd)
	case typeCodeVbin8, typeCodeVbin32:
		return readBinary(rd)
	case typeCodeTimestamp:
		return readTimestamp(rd)
	case typeCodeMap8, typeCodeMap32:
		return readStringMap(rd)
	case typeCodeList0, typeCodeList8, typeCodeList32:
		return readList(rd)
	default:
		return nil, fmt.Errorf("encoding: readAny not implemented for type code 0x%x", code)
	}
}

func readList(rd *buffer.Buffer) ([]interface{}, error) {
	_, count, err := readListHeader(rd)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := readAny(rd)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadAny reads the next value in rd, whatever primitive or list/map type it
// is, and returns it as an interface{}. Exported for callers outside this
// package that parse opaque/forward-looking sections (e.g. Message bodies).
func ReadAny(rd *buffer.Buffer) (interface{}, error) {
	return readAny(rd)
}

// ReadBinary reads a vbin8/vbin32 value.
func ReadBinary(rd *buffer.Buffer) ([]byte, error) {
	return readBinary(rd)
}

// ReadStringMap reads a map whose keys are read generically (typically
// symbols or strings) and converted to string.
func ReadStringMap(rd *buffer.Buffer) (map[string]interface{}, error) {
	return readStringMap(rd)
}

// SkipAny consumes one described or primitive value from rd, discarding it.
// It understands the 0x0-prefixed descriptor form used by message sections
// (header, properties, annotations, footer) the engine doesn't interpret.
func SkipAny(rd *buffer.Buffer) error {
	peek := rd.Peek(1)
	if len(peek) == 0 {
		return fmt.Errorf("encoding: unexpected end of buffer")
	}
	if peek[0] == 0x0 {
		if _, err := readCompositeHeader(rd); err != nil {
			return err
		}
	}
	_, err := readAny(rd)
	return err
}

func readMapHeader(rd *buffer.Buffer) (count uint32, err error) {
	code, err := rd.ReadByte()
	if err != nil {
		return 0, err
	}
	switch amqpType(code) {
	case typeCodeNull:
		return 0, nil
	case typeCodeMap8:
		if _, err := rd.ReadByte(); err != nil { // size
			return 0, err
		}
		n, err := rd.ReadByte()
		return uint32(n), err
	case typeCodeMap32:
		if _, err := rd.ReadUint32(); err != nil { // size
			return 0, err
		}
		return rd.ReadUint32()
	default:
		return 0, fmt.Errorf("encoding: invalid map type code 0x%x", code)
	}
}

func readStringMap(rd *buffer.Buffer) (map[string]interface{}, error) {
	count, err := readMapHeader(rd)
	if err != nil || count == 0 {
		return nil, err
	}
	m := make(map[string]interface{}, count/2)
	for i := uint32(0); i < count/2; i++ {
		k, err := readAny(rd)
		if err != nil {
			return nil, err
		}
		v, err := readAny(rd)
		if err != nil {
			return nil, err
		}
		ks, _ := k.(string)
		if ks == "" {
			if sym, ok := k.(Symbol); ok {
				ks = string(sym)
			}
		}
		m[ks] = v
	}
	return m, nil
}

func readSymbolMap(rd *buffer.Buffer) (map[Symbol]interface{}, error) {
	sm, err := readStringMap(rd)
	if err != nil || sm == nil {
		return nil, err
	}
	out := make(map[Symbol]interface{}, len(sm))
	for k, v := range sm {
		out[Symbol(k)] = v
	}
	return out, nil
}
