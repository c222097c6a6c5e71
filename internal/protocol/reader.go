package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrMessageTooLong = errors.New("protocol error: message too long")
	ErrTooManyArgs    = errors.New("protocol error: too many arguments")
	ErrMalformed      = errors.New("protocol error: malformed frame")
)

// ParseRequest extracts one request frame from the front of buf.
//
// It returns n == 0 and a nil error when buf does not yet hold a complete
// frame. Any error means the stream can no longer be trusted and the
// connection should be dropped. The returned args alias buf.
func ParseRequest(buf []byte, lim Limits) (args [][]byte, n int, err error) {
	if len(buf) < headerSize {
		return nil, 0, nil
	}
	size := binary.LittleEndian.Uint32(buf)
	if uint64(size) > uint64(lim.MaxMessage) {
		return nil, 0, ErrMessageTooLong
	}
	if len(buf) < headerSize+int(size) {
		return nil, 0, nil
	}

	body := buf[headerSize : headerSize+int(size)]
	if len(body) < 4 {
		return nil, 0, ErrMalformed
	}
	nargs := binary.LittleEndian.Uint32(body)
	if uint64(nargs) > uint64(lim.MaxArgs) {
		return nil, 0, ErrTooManyArgs
	}
	body = body[4:]
	// Every argument carries at least its length prefix
	if uint64(nargs)*4 > uint64(len(body)) {
		return nil, 0, ErrMalformed
	}

	args = make([][]byte, 0, nargs)
	for i := uint32(0); i < nargs; i++ {
		if len(body) < 4 {
			return nil, 0, ErrMalformed
		}
		alen := binary.LittleEndian.Uint32(body)
		body = body[4:]
		if uint64(alen) > uint64(len(body)) {
			return nil, 0, ErrMalformed
		}
		args = append(args, body[:alen])
		body = body[alen:]
	}
	if len(body) != 0 {
		return nil, 0, ErrMalformed
	}
	return args, headerSize + int(size), nil
}

// DecodeValue decodes one tagged value from the front of data and reports
// how many bytes it used
func DecodeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, ErrMalformed
	}
	tag := Tag(data[0])
	off := 1

	switch tag {
	case TagNil:
		return NilVal(), off, nil
	case TagErr:
		if len(data[off:]) < 4 {
			return Value{}, 0, ErrMalformed
		}
		code := binary.LittleEndian.Uint32(data[off:])
		off += 4
		s, n, err := decodeString(data[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return ErrorVal(code, s), off + n, nil
	case TagStr:
		s, n, err := decodeString(data[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return StringVal(s), off + n, nil
	case TagInt:
		if len(data[off:]) < 8 {
			return Value{}, 0, ErrMalformed
		}
		return IntegerVal(int64(binary.LittleEndian.Uint64(data[off:]))), off + 8, nil
	case TagDbl:
		if len(data[off:]) < 8 {
			return Value{}, 0, ErrMalformed
		}
		return DoubleVal(math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))), off + 8, nil
	case TagArr:
		if len(data[off:]) < 4 {
			return Value{}, 0, ErrMalformed
		}
		count := binary.LittleEndian.Uint32(data[off:])
		off += 4
		// Every element takes at least its tag byte
		if uint64(count) > uint64(len(data[off:])) {
			return Value{}, 0, ErrMalformed
		}
		elems := make([]Value, count)
		for i := range elems {
			v, n, err := DecodeValue(data[off:])
			if err != nil {
				return Value{}, 0, err
			}
			elems[i] = v
			off += n
		}
		return ArrayVal(elems), off, nil
	default:
		return Value{}, 0, fmt.Errorf("%w: unknown tag %d", ErrMalformed, uint8(tag))
	}
}

func decodeString(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, ErrMalformed
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-4) {
		return "", 0, ErrMalformed
	}
	return string(data[4 : 4+n]), 4 + int(n), nil
}

// Reader reads response frames from an io.Reader
type Reader struct {
	rd         *bufio.Reader
	maxMessage int
}

// NewReader creates a new response reader
func NewReader(r io.Reader, maxMessage int) *Reader {
	return &Reader{
		rd:         bufio.NewReaderSize(r, 64*1024),
		maxMessage: maxMessage,
	}
}

// NewReaderFromBufio creates a Reader from an existing bufio.Reader
func NewReaderFromBufio(br *bufio.Reader, maxMessage int) *Reader {
	return &Reader{rd: br, maxMessage: maxMessage}
}

// ReadResponse blocks until one full response frame has arrived and decodes it
func (r *Reader) ReadResponse() (Value, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.rd, hdr[:]); err != nil {
		return Value{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if uint64(size) > uint64(r.maxMessage) {
		return Value{}, ErrMessageTooLong
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r.rd, body); err != nil {
		return Value{}, err
	}
	v, n, err := DecodeValue(body)
	if err != nil {
		return Value{}, err
	}
	if n != len(body) {
		return Value{}, ErrMalformed
	}
	return v, nil
}
