// Package protocol holds the type-length-value framing used for cell blobs.
//
// A record is a one-letter type followed by its body length and the body.
// Three header forms exist:
//
//	'0'..'9'          tiny: the digit is the body length, type implied
//	'a'..'z' len8     short: lowercase type, one length byte
//	'A'..'Z' len32le  long: uppercase type, four length bytes
//
// Records nest: a body may itself be a sequence of records.
package protocol

import (
	"encoding/binary"
	"errors"
)

const CaseBit uint8 = 'a' - 'A'

// maxBody is the largest body a long header can carry.
const maxBody = 0x7fffffff

var (
	ErrIncomplete = errors.New("incomplete record")
	ErrBadRecord  = errors.New("bad record format")
)

// ProbeHeader reads the header at the start of data. lit is the uppercase
// type, '0' for a tiny record, '-' for garbage and 0 when the header itself
// is cut short.
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	b := data[0]
	switch {
	case b >= '0' && b <= '9':
		return '0', 1, int(b - '0')
	case b >= 'a' && b <= 'z':
		if len(data) < 2 {
			return 0, 0, 0
		}
		return b - CaseBit, 2, int(data[1])
	case b >= 'A' && b <= 'Z':
		if len(data) < 5 {
			return 0, 0, 0
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > maxBody {
			return '-', 0, 0
		}
		return b, 5, int(bl)
	}
	return '-', 0, 0
}

// AppendHeader appends the shortest header for a body of bodylen bytes.
// A lowercase lit allows the tiny form.
func AppendHeader(into []byte, lit byte, bodylen int) []byte {
	upper := lit &^ CaseBit
	if upper < 'A' || upper > 'Z' {
		panic("record type must be a letter")
	}
	switch {
	case bodylen < 10 && lit&CaseBit != 0:
		return append(into, byte('0'+bodylen))
	case bodylen > 0xff:
		if bodylen > maxBody {
			panic("oversized record")
		}
		into = append(into, upper)
		return binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	}
	return append(into, upper|CaseBit, byte(bodylen))
}

// Append appends a record made of the concatenated body parts.
func Append(into []byte, lit byte, body ...[]byte) []byte {
	total := 0
	for _, b := range body {
		total += len(b)
	}
	into = AppendHeader(into, lit, total)
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

// Record is Append into a fresh, exactly sized buffer.
func Record(lit byte, body ...[]byte) []byte {
	total := 0
	for _, b := range body {
		total += len(b)
	}
	return Append(make([]byte, 0, total+5), lit, body...)
}

// TakeWary splits the first record off untrusted data. A tiny record
// matches any lit.
func TakeWary(lit byte, data []byte) (body, rest []byte, err error) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == '-' {
		return nil, nil, ErrBadRecord
	}
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data, ErrIncomplete
	}
	if flit != lit&^CaseBit && flit != '0' {
		return nil, nil, ErrBadRecord
	}
	return data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

// OpenHeader starts a long record whose body is appended afterwards;
// CloseHeader with the returned bookmark fills in the length.
func OpenHeader(buf []byte, lit byte) (bookmark int, res []byte) {
	lit &^= CaseBit
	if lit < 'A' || lit > 'Z' {
		panic("record type must be a letter")
	}
	res = append(buf, lit, 0, 0, 0, 0)
	return len(res), res
}

func CloseHeader(buf []byte, bookmark int) {
	if bookmark < 5 || len(buf) < bookmark {
		panic("bookmark out of range")
	}
	binary.LittleEndian.PutUint32(buf[bookmark-4:bookmark], uint32(len(buf)-bookmark))
}
