// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package permission

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"

	"github.com/samber/oops"
)

// MaxStringLength is the longest string the codec will write or accept.
const MaxStringLength = math.MaxUint16

// Writer encodes little-endian primitives. The first error is sticky: once a
// write fails every later write is a no-op and Err reports the failure.
type Writer struct {
	w   io.Writer
	buf [8]byte
	err error
}

// NewWriter returns a Writer encoding to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered while writing.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(p); err != nil {
		w.err = oops.In("permission").Code("WRITE_FAILED").Wrap(err)
	}
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

// WriteBool writes a bool as one byte.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

// WriteUint16 writes a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

// WriteInt32 writes a little-endian int32.
func (w *Writer) WriteInt32(v int32) {
	binary.LittleEndian.PutUint32(w.buf[:4], uint32(v))
	w.write(w.buf[:4])
}

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

// WriteUint64 writes a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// WriteString writes a uint16 byte length followed by UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	if len(s) > MaxStringLength {
		if w.err == nil {
			w.err = oops.In("permission").
				Code("STRING_TOO_LONG").
				With("length", len(s)).
				Errorf("string exceeds %d bytes", MaxStringLength)
		}
		return
	}
	w.WriteUint16(uint16(len(s)))
	w.write([]byte(s))
}

// Reader decodes what Writer encodes. Like Writer its first error is sticky;
// HasFailed lets callers stop early and keep what was decoded so far.
type Reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// HasFailed reports whether any read has failed.
func (r *Reader) HasFailed() bool {
	return r.err != nil
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		r.err = oops.In("permission").Code("READ_FAILED").Wrap(err)
		return nil
	}
	return r.buf[:n]
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() uint8 {
	b := r.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadBool reads a one-byte bool. Any non-zero byte is true.
func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	b := r.read(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() int32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() uint64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadString reads a uint16-length-prefixed UTF-8 string.
func (r *Reader) ReadString() string {
	n := int(r.ReadUint16())
	if r.err != nil {
		return ""
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		r.err = oops.In("permission").Code("READ_FAILED").Wrap(err)
		return ""
	}
	if !utf8.Valid(data) {
		r.err = oops.In("permission").Code("INVALID_UTF8").Errorf("string is not valid UTF-8")
		return ""
	}
	return string(data)
}

// Flag bits of the structured branch encoding. Unknown bits are ignored by
// readers so newer writers can add flags.
const (
	branchFlagDevkitServer uint8 = 1 << iota
	branchFlagCore
	branchFlagPlugin
)

// WriteBranch writes the structured binary form of b: a flag byte, the
// plugin id when present, then the path.
func (w *Writer) WriteBranch(b Branch) {
	var flags uint8
	if b.DevkitServer {
		flags |= branchFlagDevkitServer
	}
	if b.Core {
		flags |= branchFlagCore
	}
	if b.Plugin != "" && !b.DevkitServer && !b.Core {
		flags |= branchFlagPlugin
	}
	w.WriteUint8(flags)
	if flags&branchFlagPlugin != 0 {
		w.WriteString(b.Plugin)
	}
	w.WriteString(b.Path)
}

// ReadBranch reads a branch written by WriteBranch. The bool is false when
// the stream failed or the decoded branch does not validate.
func (r *Reader) ReadBranch() (Branch, bool) {
	flags := r.ReadUint8()
	var scope string
	switch {
	case flags&branchFlagDevkitServer != 0:
		scope = ScopeDevkitServer
	case flags&branchFlagCore != 0:
		scope = ScopeCore
	}
	if flags&branchFlagPlugin != 0 {
		plugin := r.ReadString()
		if scope == "" {
			scope = plugin
		}
	}
	path := r.ReadString()
	if r.HasFailed() {
		return Branch{}, false
	}
	b := NewBranch(scope, path)
	return b, b.Valid()
}
