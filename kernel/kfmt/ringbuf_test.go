package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	expStr := "the big brown fox jumped over the lazy dog"

	t.Run("read/write", func(t *testing.T) {
		var rb ringBuffer
		n, err := rb.Write([]byte(expStr))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(expStr) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(expStr), n)
		}

		if got := readByteByByte(&rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("write wraps around", func(t *testing.T) {
		var rb ringBuffer
		rb.head = ringBufferSize - 2

		if _, err := rb.Write([]byte(expStr)); err != nil {
			t.Fatal(err)
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("overflow keeps most recent bytes", func(t *testing.T) {
		var rb ringBuffer
		input := strings.Repeat("a", ringBufferSize) + expStr

		if _, err := rb.Write([]byte(input)); err != nil {
			t.Fatal(err)
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if exp := input[len(input)-ringBufferSize:]; buf.String() != exp {
			t.Fatalf("expected ring buffer to retain the last %d bytes", ringBufferSize)
		}
	})

	t.Run("read from empty buffer", func(t *testing.T) {
		var rb ringBuffer
		if n, err := rb.Read(make([]byte, 4)); n != 0 || err != io.EOF {
			t.Fatalf("expected Read to return (0, io.EOF); got (%d, %v)", n, err)
		}
	})
}

func readByteByByte(rb *ringBuffer) string {
	var (
		buf bytes.Buffer
		b   = make([]byte, 1)
	)
	for {
		_, err := rb.Read(b)
		if err == io.EOF {
			break
		}
		buf.Write(b)
	}
	return buf.String()
}
