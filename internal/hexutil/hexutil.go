// Package hexutil provides lookup-table hex and entity writers for the
// encoding hot paths. Tables are precomputed once to avoid fmt.Sprintf in
// per-byte loops.
package hexutil

import (
	"strings"
	"unicode/utf16"
)

// Hex character tables
const (
	HexUpper = "0123456789ABCDEF"
	HexLower = "0123456789abcdef"
)

var (
	// URLEncoded contains "%XX" for each byte value (uppercase).
	URLEncoded [256]string

	// URLEncodedLower contains "%xx" for each byte value (lowercase).
	URLEncodedLower [256]string

	// DoubleURLEncoded contains "%25XX" for each byte value.
	DoubleURLEncoded [256]string

	// HexEscape contains "\xXX" for each byte value (lowercase).
	HexEscape [256]string

	// HexEscapeUpper contains "\xXX" for each byte value (uppercase).
	HexEscapeUpper [256]string

	// OctalEscape contains "\OOO" for each byte value.
	OctalEscape [256]string

	// BinaryEscape contains "XXXXXXXX" (8 binary digits) for each byte value.
	BinaryEscape [256]string

	// DecEntity contains "&#N;" for the ASCII printable range.
	DecEntity [128]string

	// HexEntity contains "&#xXX;" for the ASCII printable range.
	HexEntity [128]string
)

func init() {
	for i := 0; i < 256; i++ {
		hi := HexUpper[i>>4]
		lo := HexUpper[i&0x0F]
		hiL := HexLower[i>>4]
		loL := HexLower[i&0x0F]

		URLEncoded[i] = "%" + string(hi) + string(lo)
		URLEncodedLower[i] = "%" + string(hiL) + string(loL)
		DoubleURLEncoded[i] = "%25" + string(hi) + string(lo)
		HexEscape[i] = "\\x" + string(hiL) + string(loL)
		HexEscapeUpper[i] = "\\x" + string(hi) + string(lo)
		OctalEscape[i] = "\\" + string('0'+byte(i/64)) + string('0'+byte((i/8)%8)) + string('0'+byte(i%8))
		BinaryEscape[i] = string([]byte{
			'0' + byte((i>>7)&1),
			'0' + byte((i>>6)&1),
			'0' + byte((i>>5)&1),
			'0' + byte((i>>4)&1),
			'0' + byte((i>>3)&1),
			'0' + byte((i>>2)&1),
			'0' + byte((i>>1)&1),
			'0' + byte(i&1),
		})

		if i >= 32 && i < 128 {
			DecEntity[i] = "&#" + itoa(i) + ";"
			HexEntity[i] = "&#x" + string(hiL) + string(loL) + ";"
		}
	}
}

// itoa converts small positive integers without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// WriteURLEncoded writes a byte as %XX to the builder.
func WriteURLEncoded(sb *strings.Builder, b byte) {
	sb.WriteString(URLEncoded[b])
}

// WriteURLEncodedLower writes a byte as %xx (lowercase) to the builder.
func WriteURLEncodedLower(sb *strings.Builder, b byte) {
	sb.WriteString(URLEncodedLower[b])
}

// WriteHexEscapeUpper writes a byte as \xXX (uppercase) to the builder.
func WriteHexEscapeUpper(sb *strings.Builder, b byte) {
	sb.WriteString(HexEscapeUpper[b])
}

// WriteOctalEscape writes a byte as \OOO (3 octal digits) to the builder.
func WriteOctalEscape(sb *strings.Builder, b byte) {
	sb.WriteString(OctalEscape[b])
}

// WriteBinaryEscape writes a byte as 8 binary digits to the builder.
func WriteBinaryEscape(sb *strings.Builder, b byte) {
	sb.WriteString(BinaryEscape[b])
}

// WriteDoubleURLEncoded writes a byte as %25XX to the builder.
func WriteDoubleURLEncoded(sb *strings.Builder, b byte) {
	sb.WriteString(DoubleURLEncoded[b])
}

// WriteHexEscape writes a byte as \xXX (lowercase) to the builder.
func WriteHexEscape(sb *strings.Builder, b byte) {
	sb.WriteString(HexEscape[b])
}

// WriteDecEntity writes a rune as &#N; to the builder.
func WriteDecEntity(sb *strings.Builder, r rune) {
	if r >= 32 && r < 128 {
		sb.WriteString(DecEntity[r])
		return
	}
	sb.WriteString("&#")
	writeInt(sb, int(r))
	sb.WriteByte(';')
}

// WriteHexEntity writes a rune as &#xXX; (lowercase) to the builder.
func WriteHexEntity(sb *strings.Builder, r rune) {
	if r >= 32 && r < 128 {
		sb.WriteString(HexEntity[r])
		return
	}
	sb.WriteString("&#x")
	writeHexRune(sb, r)
	sb.WriteByte(';')
}

// WriteUnicodeEscape writes a rune as \uXXXX, zero-padded to 4 hex digits.
// Runes outside the basic multilingual plane become a surrogate pair, two
// \uXXXX units, the way JSON and JavaScript string literals expect them.
func WriteUnicodeEscape(sb *strings.Builder, r rune) {
	if r > 0xFFFF {
		hi, lo := utf16.EncodeRune(r)
		writeUnicodeUnit(sb, uint16(hi))
		writeUnicodeUnit(sb, uint16(lo))
		return
	}
	writeUnicodeUnit(sb, uint16(r))
}

// WriteUnicodeEscapeUpper is WriteUnicodeEscape with uppercase hex digits.
func WriteUnicodeEscapeUpper(sb *strings.Builder, r rune) {
	if r > 0xFFFF {
		hi, lo := utf16.EncodeRune(r)
		writeUnicodeUnitTable(sb, uint16(hi), HexUpper)
		writeUnicodeUnitTable(sb, uint16(lo), HexUpper)
		return
	}
	writeUnicodeUnitTable(sb, uint16(r), HexUpper)
}

func writeUnicodeUnit(sb *strings.Builder, u uint16) {
	writeUnicodeUnitTable(sb, u, HexLower)
}

func writeUnicodeUnitTable(sb *strings.Builder, u uint16, table string) {
	sb.WriteString("\\u")
	sb.WriteByte(table[u>>12&0xF])
	sb.WriteByte(table[u>>8&0xF])
	sb.WriteByte(table[u>>4&0xF])
	sb.WriteByte(table[u&0xF])
}

// WriteOverlong2Byte writes an ASCII byte as overlong 2-byte UTF-8 (%CX%XX).
// The encoding uses more bytes than necessary, which naive UTF-8 decoders
// collapse back to the original character after the filter has run.
func WriteOverlong2Byte(sb *strings.Builder, b byte) {
	first := 0xC0 | (b >> 6)
	second := 0x80 | (b & 0x3F)
	sb.WriteString(URLEncoded[first])
	sb.WriteString(URLEncoded[second])
}

// WriteOverlong3Byte writes an ASCII byte as overlong 3-byte UTF-8.
func WriteOverlong3Byte(sb *strings.Builder, b byte) {
	second := 0x80 | (b >> 6)
	third := 0x80 | (b & 0x3F)
	sb.WriteString(URLEncoded[0xE0])
	sb.WriteString(URLEncoded[second])
	sb.WriteString(URLEncoded[third])
}

// writeInt writes an integer to the builder without allocations.
func writeInt(sb *strings.Builder, n int) {
	if n == 0 {
		sb.WriteByte('0')
		return
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	sb.Write(buf[i:])
}

// writeHexRune writes a rune as hex digits (variable length).
func writeHexRune(sb *strings.Builder, r rune) {
	if r >= 0x100000 {
		sb.WriteByte(HexLower[r>>20&0xF])
	}
	if r >= 0x10000 {
		sb.WriteByte(HexLower[r>>16&0xF])
	}
	if r >= 0x1000 {
		sb.WriteByte(HexLower[r>>12&0xF])
	}
	if r >= 0x100 {
		sb.WriteByte(HexLower[r>>8&0xF])
	}
	if r >= 0x10 {
		sb.WriteByte(HexLower[r>>4&0xF])
	}
	sb.WriteByte(HexLower[r&0xF])
}
