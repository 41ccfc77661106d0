// Package crc implements the wire-compatible integrity sidecar the
// orchestrator attaches to outgoing requests: a half-byte-table CRC-32
// plus a 16-bit sequence number, rendered as a fixed 22-character JSON
// field and stripped back off an incoming response for verification.
//
// The table algorithm, field layout, and "empty object" special case
// are a direct port of note-c's _crc32/_crcAdd/_crcError; see
// original_source/n_request.c in the retrieved reference pack.
package crc

import (
	"strings"

	"notecard-go/x/conv"
)

// FieldLength is the fixed length of the `,"crc":"SSSS:CCCCCCCC"` sidecar,
// including the leading separator byte.
const FieldLength = 22

const fieldNameTest = `"crc":"`
const errFieldNameTest = `"err":"`

// half-byte (nibble) lookup table for the reflected CRC-32 (poly 0xEDB88320)
// used by the Notecard firmware. See original_source/n_request.c.
var lut = [16]uint32{
	0x00000000, 0x1DB71064, 0x3B6E20C8, 0x26D930AC, 0x76DC4190, 0x6B6B51F4,
	0x4DB26158, 0x5005713C, 0xEDB88320, 0xF00F9344, 0xD6D6A3E8, 0xCB61B38C,
	0x9B64C2B0, 0x86D3D2D4, 0xA00AE278, 0xBDBDF21C,
}

// Sum32 computes the half-byte-table CRC-32 of data: initial value
// 0xFFFFFFFF, reflected polynomial lookup, result complemented.
func Sum32(data []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range data {
		crc = lut[(crc^uint32(b))&0x0F] ^ (crc >> 4)
		crc = lut[(crc^uint32(b>>4))&0x0F] ^ (crc >> 4)
	}
	return ^crc
}

// Add appends the CRC sidecar to a serialized JSON object ending in '}'.
// seqno is the orchestrator's current transaction sequence number. Add
// returns nil if json is too short or does not end in '}'.
//
// The sidecar is computed over the *original* json, before the sidecar is
// appended, per spec §3. The separator before the field is a space for an
// empty object ("{}") and a comma otherwise, so the result is always valid
// JSON.
func Add(json string, seqno uint16) []byte {
	if len(json) < 2 || json[len(json)-1] != '}' {
		return nil
	}

	sum := Sum32([]byte(json))
	isEmptyObject := !strings.ContainsRune(json, ':')

	out := make([]byte, 0, len(json)+FieldLength)
	out = append(out, json[:len(json)-1]...)
	if isEmptyObject {
		out = append(out, ' ')
	} else {
		out = append(out, ',')
	}
	out = append(out, `"crc":"`...)

	var seqBuf [4]byte
	out = append(out, conv.U16Hex(seqBuf[:], seqno)...)
	out = append(out, ':')

	var crcBuf [8]byte
	out = append(out, conv.U32Hex(crcBuf[:], sum)...)
	out = append(out, `"}`...)

	return out
}

// Error checks a response for a CRC/sequence mismatch and strips the
// sidecar from json in place (by returning the trimmed slice), regardless
// of outcome, exactly mirroring note-c's _crcError contract.
//
// firmwareSupportsCRC tracks whether any previous response has ever
// carried a sidecar; once true, a response's lack of a sidecar is itself
// an error (older firmware is tolerated only until it is seen emitting
// CRCs at all). Error returns the updated sticky flag alongside the
// trimmed buffer and the mismatch verdict.
func Error(json []byte, shouldBeSeqno uint16, firmwareSupportsCRC bool) (trimmed []byte, mismatch bool, supportsCRC bool) {
	n := len(json)
	for n > 0 && json[n-1] <= ' ' {
		n--
	}
	trimmed = json[:n]
	supportsCRC = firmwareSupportsCRC

	// The device does not CRC error responses.
	if bytesContains(trimmed, errFieldNameTest) {
		return trimmed, false, supportsCRC
	}

	if n == 0 || trimmed[n-1] != '}' {
		return trimmed, false, supportsCRC
	}
	if n < FieldLength+2 {
		// Too short to carry a sidecar: an error only if we've seen one before.
		return trimmed, supportsCRC, supportsCRC
	}

	fieldOffset := n - 1 - FieldLength
	nameStart := fieldOffset + 1 // CRC_FIELD_NAME_OFFSET: skip the separator byte
	if !hasPrefixAt(trimmed, nameStart, fieldNameTest) {
		// No sidecar this time: an error only if we've seen one before.
		return trimmed, supportsCRC, supportsCRC
	}

	supportsCRC = true

	p := nameStart + len(fieldNameTest)
	actualSeqno, okSeq := conv.ParseHex16(trimmed[p : p+4])
	actualCRC, okCRC := conv.ParseHex32(trimmed[p+5 : p+13])

	stripped := trimmed[:fieldOffset]
	stripped = append(stripped, '}')

	if !okSeq || !okCRC {
		return stripped, true, supportsCRC
	}

	shouldBeCRC := Sum32(stripped)
	mismatch = shouldBeSeqno != actualSeqno || shouldBeCRC != actualCRC
	return stripped, mismatch, supportsCRC
}

func bytesContains(b []byte, s string) bool {
	return strings.Contains(string(b), s)
}

func hasPrefixAt(b []byte, off int, prefix string) bool {
	if off < 0 || off+len(prefix) > len(b) {
		return false
	}
	return string(b[off:off+len(prefix)]) == prefix
}
