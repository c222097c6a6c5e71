package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

const (
	// headerSize is the u32 length prefix in front of every frame
	headerSize = 4

	// DefaultMaxMessage bounds the body of a single frame in either direction
	DefaultMaxMessage = 32 << 20

	// DefaultMaxArgs bounds the argument count of a request
	DefaultMaxArgs = 200 * 1000
)

// Limits bounds what a peer may send or be sent in one frame
type Limits struct {
	MaxMessage int
	MaxArgs    int
}

// DefaultLimits returns the stock frame limits
func DefaultLimits() Limits {
	return Limits{MaxMessage: DefaultMaxMessage, MaxArgs: DefaultMaxArgs}
}

// AppendValue appends the tagged encoding of v to buf
func AppendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Type))
	switch v.Type {
	case TagNil:
	case TagErr:
		buf = binary.LittleEndian.AppendUint32(buf, v.Code)
		buf = appendString(buf, v.Str)
	case TagStr:
		buf = appendString(buf, v.Str)
	case TagInt:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Num))
	case TagDbl:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Dbl))
	case TagArr:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Array)))
		for _, e := range v.Array {
			buf = AppendValue(buf, e)
		}
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// AppendResponse appends a complete response frame for v to buf.
// If the encoded value is larger than maxMessage it is dropped and the frame
// carries ErrTooBig instead, so the frame itself always stays within bounds.
func AppendResponse(buf []byte, v Value, maxMessage int) []byte {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	buf = AppendValue(buf, v)

	size := len(buf) - start - headerSize
	if size > maxMessage {
		buf = AppendValue(buf[:start+headerSize], ErrTooBig)
		size = len(buf) - start - headerSize
	}
	binary.LittleEndian.PutUint32(buf[start:], uint32(size))
	return buf
}

// AppendRequest appends a request frame carrying args to buf
func AppendRequest(buf []byte, args []string) []byte {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(args)))
	for _, a := range args {
		buf = appendString(buf, a)
	}
	binary.LittleEndian.PutUint32(buf[start:], uint32(len(buf)-start-headerSize))
	return buf
}

// Writer writes request frames to an io.Writer.
// The bufio layer lets a caller queue several requests and send them in one
// write, which is how pipelining looks from the client side.
type Writer struct {
	wr      *bufio.Writer
	scratch []byte
}

// NewWriter creates a new request writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		wr: bufio.NewWriterSize(w, 64*1024),
	}
}

// NewWriterFromBufio creates a Writer from an existing bufio.Writer
func NewWriterFromBufio(bw *bufio.Writer) *Writer {
	return &Writer{wr: bw}
}

// WriteRequest buffers one request frame. Call Flush() to send it.
func (w *Writer) WriteRequest(args []string) error {
	w.scratch = AppendRequest(w.scratch[:0], args)
	_, err := w.wr.Write(w.scratch)
	return err
}

// Flush flushes the write buffer to the underlying writer
func (w *Writer) Flush() error {
	return w.wr.Flush()
}
