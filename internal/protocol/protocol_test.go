package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"reflect"
	"testing"

	"github.com/aravinth/pollkv/internal/protocol"
)

func TestValue_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		val  protocol.Value
	}{
		{"nil", protocol.NilVal()},
		{"error", protocol.ErrorVal(7, "boom")},
		{"string", protocol.StringVal("hello")},
		{"empty string", protocol.StringVal("")},
		{"integer", protocol.IntegerVal(-42)},
		{"max integer", protocol.IntegerVal(math.MaxInt64)},
		{"double", protocol.DoubleVal(3.25)},
		{"negative double", protocol.DoubleVal(-1e-9)},
		{"empty array", protocol.ArrayVal([]protocol.Value{})},
		{"nested array", protocol.ArrayVal([]protocol.Value{
			protocol.StringVal("a"),
			protocol.IntegerVal(1),
			protocol.ArrayVal([]protocol.Value{protocol.NilVal(), protocol.DoubleVal(0.5)}),
			protocol.ErrorVal(1, "x"),
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := protocol.AppendValue(nil, tc.val)
			got, n, err := protocol.DecodeValue(enc)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if n != len(enc) {
				t.Errorf("expected %d bytes consumed, got %d", len(enc), n)
			}
			if !reflect.DeepEqual(got, tc.val) {
				t.Errorf("expected %+v, got %+v", tc.val, got)
			}
		})
	}
}

func TestDecodeValue_Truncated(t *testing.T) {
	enc := protocol.AppendValue(nil, protocol.StringsVal([]string{"abc", "def"}))
	for i := 0; i < len(enc); i++ {
		if _, _, err := protocol.DecodeValue(enc[:i]); err == nil {
			t.Errorf("expected error decoding %d of %d bytes", i, len(enc))
		}
	}
}

func TestDecodeValue_UnknownTag(t *testing.T) {
	_, _, err := protocol.DecodeValue([]byte{9})
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestAppendRequest_Layout(t *testing.T) {
	frame := protocol.AppendRequest(nil, []string{"get", "k"})

	want := []byte{
		16, 0, 0, 0, // total length
		2, 0, 0, 0, // nargs
		3, 0, 0, 0, 'g', 'e', 't',
		1, 0, 0, 0, 'k',
	}
	if len(want) != 4+16 {
		t.Fatalf("bad fixture")
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("expected %v, got %v", want, frame)
	}
}

func TestParseRequest_Incomplete(t *testing.T) {
	frame := protocol.AppendRequest(nil, []string{"set", "key", "value"})
	lim := protocol.DefaultLimits()

	for i := 0; i < len(frame); i++ {
		args, n, err := protocol.ParseRequest(frame[:i], lim)
		if err != nil || n != 0 || args != nil {
			t.Fatalf("prefix %d: expected incomplete, got args=%v n=%d err=%v", i, args, n, err)
		}
	}

	args, n, err := protocol.ParseRequest(frame, lim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(frame) {
		t.Errorf("expected %d bytes consumed, got %d", len(frame), n)
	}
	if len(args) != 3 || string(args[0]) != "set" || string(args[1]) != "key" || string(args[2]) != "value" {
		t.Errorf("unexpected args: %q", args)
	}
}

func TestParseRequest_Pipelined(t *testing.T) {
	buf := protocol.AppendRequest(nil, []string{"get", "a"})
	first := len(buf)
	buf = protocol.AppendRequest(buf, []string{"keys"})
	lim := protocol.DefaultLimits()

	args, n, err := protocol.ParseRequest(buf, lim)
	if err != nil || n != first || string(args[0]) != "get" {
		t.Fatalf("first frame: args=%q n=%d err=%v", args, n, err)
	}
	args, n, err = protocol.ParseRequest(buf[n:], lim)
	if err != nil || n != len(buf)-first || len(args) != 1 || string(args[0]) != "keys" {
		t.Fatalf("second frame: args=%q n=%d err=%v", args, n, err)
	}
}

func TestParseRequest_Errors(t *testing.T) {
	lim := protocol.Limits{MaxMessage: 64, MaxArgs: 2}

	frame := func(body []byte) []byte {
		return append(binary.LittleEndian.AppendUint32(nil, uint32(len(body))), body...)
	}

	cases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"too long", binary.LittleEndian.AppendUint32(nil, 65), protocol.ErrMessageTooLong},
		{"too many args", protocol.AppendRequest(nil, []string{"a", "b", "c"}), protocol.ErrTooManyArgs},
		{"missing nargs", frame([]byte{1, 0}), protocol.ErrMalformed},
		{"nargs overruns frame", frame([]byte{2, 0, 0, 0, 0, 0, 0, 0}), protocol.ErrMalformed},
		{"arg overruns frame", frame([]byte{1, 0, 0, 0, 9, 0, 0, 0, 'x'}), protocol.ErrMalformed},
		{"trailing garbage", frame([]byte{1, 0, 0, 0, 1, 0, 0, 0, 'x', 'y'}), protocol.ErrMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := protocol.ParseRequest(tc.buf, lim)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAppendResponse_TooBig(t *testing.T) {
	const max = 32
	big := protocol.StringVal(string(bytes.Repeat([]byte("x"), 100)))

	frame := protocol.AppendResponse([]byte("prefix"), big, max)
	frame = frame[len("prefix"):]

	size := binary.LittleEndian.Uint32(frame)
	if int(size) != len(frame)-4 {
		t.Fatalf("length prefix %d does not match body %d", size, len(frame)-4)
	}
	if size > max {
		t.Errorf("expected frame body within %d bytes, got %d", max, size)
	}

	v, _, err := protocol.DecodeValue(frame[4:])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if v.Type != protocol.TagErr || v.Code != protocol.ErrCodeTooBig || v.Str != "response too big" {
		t.Errorf("expected too-big error, got %v", v)
	}
}

func TestReader_ReadResponse(t *testing.T) {
	var buf []byte
	buf = protocol.AppendResponse(buf, protocol.StringVal("1"), protocol.DefaultMaxMessage)
	buf = protocol.AppendResponse(buf, protocol.NilVal(), protocol.DefaultMaxMessage)

	r := protocol.NewReader(bytes.NewReader(buf), protocol.DefaultMaxMessage)

	v, err := r.ReadResponse()
	if err != nil || v.Type != protocol.TagStr || v.Str != "1" {
		t.Fatalf("first response: %v, %v", v, err)
	}
	v, err = r.ReadResponse()
	if err != nil || v.Type != protocol.TagNil {
		t.Fatalf("second response: %v, %v", v, err)
	}
	if _, err := r.ReadResponse(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestWriter_WriteRequest(t *testing.T) {
	var out bytes.Buffer
	w := protocol.NewWriter(&out)

	if err := w.WriteRequest([]string{"set", "a", "1"}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRequest([]string{"get", "a"}); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected nothing written before Flush, got %d bytes", out.Len())
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	want := protocol.AppendRequest(protocol.AppendRequest(nil, []string{"set", "a", "1"}), []string{"get", "a"})
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("expected %v, got %v", want, out.Bytes())
	}
}

func TestValue_String(t *testing.T) {
	v := protocol.ArrayVal([]protocol.Value{protocol.StringVal("a"), protocol.NilVal()})
	want := "(arr) len=2\n  (str) a\n  (nil)"
	if got := v.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := protocol.ErrUnknownCmd.String(); got != "(err 1) unknown command" {
		t.Errorf("unexpected error rendering %q", got)
	}
}
