package mutation

import (
	"encoding/base64"
	"strings"

	"github.com/bypassforge/bypassforge/internal/hexutil"
)

// Encoding variants are exact, reversible transforms: decoding the output
// recovers the original payload byte for byte. Order is the deterministic
// lane's try order.
var encodingVariants = []Variant{
	{Name: "url_single", Description: "Percent-encode every non-alphanumeric byte", BypassTarget: "literal keyword filters"},
	{Name: "url_double", Description: "Double percent-encoding (%25XX)", BypassTarget: "single-decode WAF rules"},
	{Name: "html_entity_named", Description: "Named HTML entities for markup-significant characters", BypassTarget: "HTML-context filters"},
	{Name: "html_entity_decimal", Description: "Decimal HTML entities &#N; for printable ASCII", BypassTarget: "HTML-context filters"},
	{Name: "html_entity_hex", Description: "Hex HTML entities &#xXX; for printable ASCII", BypassTarget: "HTML-context filters"},
	{Name: "unicode_escape", Description: "\\uXXXX escapes, zero-padded to 4 hex digits", BypassTarget: "JSON/JS-context filters"},
	{Name: "hex_escape", Description: "\\xXX escapes for every byte", BypassTarget: "string-literal filters"},
	{Name: "base64_std", Description: "Standard-alphabet base64 with padding", BypassTarget: "plaintext signature rules"},
	{Name: "utf7", Description: "UTF-7 +base64- segments for specials", BypassTarget: "charset-confused parsers"},
	{Name: "overlong_utf8_2byte", Description: "Overlong 2-byte UTF-8 percent sequences", BypassTarget: "pre-decode byte filters"},
	{Name: "overlong_utf8_3byte", Description: "Overlong 3-byte UTF-8 percent sequences", BypassTarget: "pre-decode byte filters"},
	{Name: "js_obfuscate", Description: "eval(String.fromCharCode(...)) construction", BypassTarget: "script keyword filters"},
}

func applyEncoding(payload, variant string) (Result, error) {
	switch variant {
	case "url_single":
		return Result{Payload: percentEncode(payload)}, nil
	case "url_double":
		return Result{Payload: doublePercentEncode(payload)}, nil
	case "html_entity_named":
		return Result{Payload: htmlNamedEntities(payload)}, nil
	case "html_entity_decimal":
		return Result{Payload: htmlDecimalEntities(payload)}, nil
	case "html_entity_hex":
		return Result{Payload: htmlHexEntities(payload)}, nil
	case "unicode_escape":
		return Result{Payload: unicodeEscape(payload)}, nil
	case "hex_escape":
		return Result{Payload: hexEscape(payload)}, nil
	case "base64_std":
		return Result{Payload: base64.StdEncoding.EncodeToString([]byte(payload))}, nil
	case "utf7":
		return Result{Payload: utf7Encode(payload)}, nil
	case "overlong_utf8_2byte":
		return Result{Payload: overlongUTF8(payload, 2)}, nil
	case "overlong_utf8_3byte":
		return Result{Payload: overlongUTF8(payload, 3)}, nil
	case "js_obfuscate":
		return Result{Payload: jsObfuscate(payload)}, nil
	default:
		return Result{}, unknownVariant(FamilyEncoding, variant)
	}
}

func isAlphanumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// percentEncode escapes every non-alphanumeric byte as %XX. More aggressive
// than url.QueryEscape, which leaves -_.~ and friends alone; filters often
// key on exactly those.
func percentEncode(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 3)
	for _, b := range []byte(payload) {
		if isAlphanumeric(b) {
			sb.WriteByte(b)
		} else {
			hexutil.WriteURLEncoded(&sb, b)
		}
	}
	return sb.String()
}

func doublePercentEncode(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 5)
	for _, b := range []byte(payload) {
		if isAlphanumeric(b) {
			sb.WriteByte(b)
		} else {
			hexutil.WriteDoubleURLEncoded(&sb, b)
		}
	}
	return sb.String()
}

// htmlNamedEntities covers the markup-significant set < > " ' & / =.
var namedEntities = map[rune]string{
	'<':  "&lt;",
	'>':  "&gt;",
	'"':  "&quot;",
	'\'': "&#39;",
	'&':  "&amp;",
	'/':  "&#47;",
	'=':  "&#61;",
}

func htmlNamedEntities(payload string) string {
	var sb strings.Builder
	for _, r := range payload {
		if entity, ok := namedEntities[r]; ok {
			sb.WriteString(entity)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func htmlDecimalEntities(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 6)
	for _, r := range payload {
		if r >= 32 && r < 127 {
			hexutil.WriteDecEntity(&sb, r)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func htmlHexEntities(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 7)
	for _, r := range payload {
		if r >= 32 && r < 127 {
			hexutil.WriteHexEntity(&sb, r)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func unicodeEscape(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 6)
	for _, r := range payload {
		hexutil.WriteUnicodeEscape(&sb, r)
	}
	return sb.String()
}

func hexEscape(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 4)
	for _, b := range []byte(payload) {
		hexutil.WriteHexEscape(&sb, b)
	}
	return sb.String()
}

// utf7Encode writes specials as modified-base64 +segment- runs, the form
// legacy charset-sniffing parsers decode back into markup.
func utf7Encode(payload string) string {
	var sb strings.Builder
	for _, r := range payload {
		if r >= 32 && r < 127 && r != '+' && r != '-' {
			sb.WriteRune(r)
			continue
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(string(r)))
		sb.WriteString("+")
		sb.WriteString(strings.TrimRight(encoded, "="))
		sb.WriteString("-")
	}
	return sb.String()
}

func overlongUTF8(payload string, width int) string {
	var sb strings.Builder
	sb.Grow(len(payload) * 3 * width)
	for _, b := range []byte(payload) {
		if b >= 128 {
			sb.WriteByte(b)
			continue
		}
		if width == 2 {
			hexutil.WriteOverlong2Byte(&sb, b)
		} else {
			hexutil.WriteOverlong3Byte(&sb, b)
		}
	}
	return sb.String()
}

// jsObfuscate rebuilds the payload through String.fromCharCode so no
// original byte survives literally.
func jsObfuscate(payload string) string {
	var sb strings.Builder
	sb.Grow(len(payload)*4 + 32)
	sb.WriteString("eval(String.fromCharCode(")
	for i, r := range []rune(payload) {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeRuneDecimal(&sb, r)
	}
	sb.WriteString("))")
	return sb.String()
}

func writeRuneDecimal(sb *strings.Builder, r rune) {
	if r == 0 {
		sb.WriteByte('0')
		return
	}
	var buf [7]byte
	i := len(buf)
	for r > 0 {
		i--
		buf[i] = byte('0' + r%10)
		r /= 10
	}
	sb.Write(buf[i:])
}
