// Package kfmt implements the kernel console output and the fatal error path.
package kfmt

import (
	"io"

	"gopheros/kernel/sync"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	minusSign       = []byte("-")
	padding         = []byte("                                ")
	zeroPadding     = []byte("00000000000000000000000000000000")

	// numFmtBuf and copyBuf are scratch buffers used while formatting.
	// Both are only touched with outputLock held or before a sink exists.
	numFmtBuf [maxBufSize]byte
	copyBuf   [128]byte

	// outputLock serializes writes so that lines emitted by concurrent
	// callers do not interleave.
	outputLock sync.Spinlock

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputLock.Acquire()
	defer outputLock.Release()

	outputSink = w
	if w == nil {
		return
	}

	for {
		n, err := earlyPrintBuffer.Read(copyBuf[:])
		if n > 0 {
			w.Write(copyBuf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized. This implementation
// does not allocate any memory.
//
// Similar to fmt.Printf, this version of printf supports the following subset
// of formatting verbs:
//
// Strings:
//		%s the uninterpreted bytes of the string or byte slice
//
// Integers:
//		%o base 8
//		%d base 10
//		%x base 16, with lower-case letters for a-f
//
// Booleans:
//		%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. If absent, the width is whatever is necessary to represent the value.
// String values are padded with spaces and numbers with zeros (base 16) or
// spaces (base 8 and 10).
//
// Kernel code prefixes its messages with the name of the emitting module in
// brackets, e.g. "[frame_pool] ...".
func Printf(format string, args ...interface{}) {
	outputLock.Acquire()
	defer outputLock.Release()

	fprintf(outputSink, format, args...)
}

// fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. A nil writer is replaced by the early print
// buffer. fprintf performs no locking.
func fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = &earlyPrintBuffer
	}

	var (
		nextArg     int
		blockStart  int
		formatLen   = len(format)
		padLen      int
		nextCh      byte
		readingPadd bool
	)

	for i := 0; i < formatLen; i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[blockStart:i])
		blockStart = i + 1

		// Scan the optional width and the verb
		padLen, readingPadd = 0, true
		for readingPadd && blockStart < formatLen {
			nextCh = format[blockStart]
			if nextCh >= '0' && nextCh <= '9' {
				padLen = padLen*10 + int(nextCh-'0')
				blockStart++
				continue
			}
			readingPadd = false
		}

		if blockStart >= formatLen {
			w.Write(errNoVerb)
			break
		}

		nextCh = format[blockStart]
		i = blockStart
		blockStart++

		if nextCh == '%' {
			writeString(w, "%")
			continue
		}

		if nextArg >= len(args) {
			w.Write(errMissingArg)
			continue
		}

		switch nextCh {
		case 's':
			fmtString(w, args[nextArg], padLen)
		case 'o':
			fmtInt(w, args[nextArg], 8, padLen)
		case 'd':
			fmtInt(w, args[nextArg], 10, padLen)
		case 'x':
			fmtInt(w, args[nextArg], 16, padLen)
		case 't':
			fmtBool(w, args[nextArg])
		default:
			w.Write(errWrongArgType)
		}
		nextArg++
	}

	if blockStart < formatLen {
		writeString(w, format[blockStart:])
	}

	if nextArg < len(args) {
		w.Write(errExtraArg)
	}
}

// writeString copies s to w through copyBuf. Converting s to a []byte
// directly would allocate.
func writeString(w io.Writer, s string) {
	for len(s) > 0 {
		n := copy(copyBuf[:], s)
		w.Write(copyBuf[:n])
		s = s[n:]
	}
}

// writeBytes copies b to w through copyBuf so that w never retains a
// reference to the caller's argument.
func writeBytes(w io.Writer, b []byte) {
	for len(b) > 0 {
		n := copy(copyBuf[:], b)
		w.Write(copyBuf[:n])
		b = b[n:]
	}
}

func writePadding(w io.Writer, pad []byte, padLen int) {
	for padLen > 0 {
		n := padLen
		if n > len(pad) {
			n = len(pad)
		}
		w.Write(pad[:n])
		padLen -= n
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	switch bVal := v.(type) {
	case bool:
		if bVal {
			w.Write(trueValue)
		} else {
			w.Write(falseValue)
		}
	default:
		w.Write(errWrongArgType)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		writePadding(w, padding, padLen-len(castedVal))
		writeString(w, castedVal)
	case []byte:
		writePadding(w, padding, padLen-len(castedVal))
		writeBytes(w, castedVal)
	default:
		w.Write(errWrongArgType)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types and base 8, 10 and 16 output.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval  int64
		uval  uint64
		isNeg bool
	)

	switch typedVal := v.(type) {
	case uint8:
		uval = uint64(typedVal)
	case uint16:
		uval = uint64(typedVal)
	case uint32:
		uval = uint64(typedVal)
	case uint64:
		uval = typedVal
	case uint:
		uval = uint64(typedVal)
	case uintptr:
		uval = uint64(typedVal)
	case int8:
		sval = int64(typedVal)
	case int16:
		sval = int64(typedVal)
	case int32:
		sval = int64(typedVal)
	case int64:
		sval = typedVal
	case int:
		sval = int64(typedVal)
	default:
		w.Write(errWrongArgType)
		return
	}

	if sval < 0 {
		isNeg = true
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	// Render digits right to left
	right := maxBufSize
	for {
		right--
		digit := byte(uval % uint64(base))
		if digit < 10 {
			numFmtBuf[right] = '0' + digit
		} else {
			numFmtBuf[right] = 'a' + digit - 10
		}

		uval /= uint64(base)
		if uval == 0 {
			break
		}
	}

	digits := maxBufSize - right
	if isNeg {
		digits++
	}

	pad := padding
	if base == 16 {
		pad = zeroPadding
	}

	// Zero padding goes between the sign and the digits
	if isNeg && base == 16 {
		w.Write(minusSign)
		writePadding(w, pad, padLen-digits)
	} else {
		writePadding(w, pad, padLen-digits)
		if isNeg {
			w.Write(minusSign)
		}
	}

	w.Write(numFmtBuf[right:])
}
