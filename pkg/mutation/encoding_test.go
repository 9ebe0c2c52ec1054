package mutation

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `' OR 1=1 --<script>alert("x")</script>`

func TestEncodingRoundTrip_URLSingle(t *testing.T) {
	out, err := FamilyEncoding.Apply(samplePayload, "url_single", nil)
	require.NoError(t, err)

	decoded, err := url.QueryUnescape(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, samplePayload, decoded)
}

func TestEncodingRoundTrip_URLDouble(t *testing.T) {
	out, err := FamilyEncoding.Apply(samplePayload, "url_double", nil)
	require.NoError(t, err)

	once, err := url.QueryUnescape(out.Payload)
	require.NoError(t, err)
	twice, err := url.QueryUnescape(once)
	require.NoError(t, err)
	assert.Equal(t, samplePayload, twice)
}

func TestEncodingRoundTrip_Base64(t *testing.T) {
	out, err := FamilyEncoding.Apply(samplePayload, "base64_std", nil)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, samplePayload, string(decoded))
}

func TestEncodingRoundTrip_HexEscape(t *testing.T) {
	out, err := FamilyEncoding.Apply(samplePayload, "hex_escape", nil)
	require.NoError(t, err)

	// Every byte must appear as \xXX; reassemble and compare.
	parts := strings.Split(out.Payload, `\x`)
	var decoded []byte
	for _, p := range parts[1:] {
		require.Len(t, p, 2)
		n, err := strconv.ParseUint(p, 16, 8)
		require.NoError(t, err)
		decoded = append(decoded, byte(n))
	}
	assert.Equal(t, samplePayload, string(decoded))
}

func TestURLSingleEscapesEveryNonAlphanumericByte(t *testing.T) {
	out, err := FamilyEncoding.Apply("a-b_c.d~e f", "url_single", nil)
	require.NoError(t, err)

	for _, b := range []byte(out.Payload) {
		if b == '%' {
			continue
		}
		assert.True(t, isAlphanumeric(b), "unescaped byte %q in %q", string(b), out.Payload)
	}
}

func TestUnicodeEscapeZeroPads(t *testing.T) {
	out, err := FamilyEncoding.Apply("<", "unicode_escape", nil)
	require.NoError(t, err)
	assert.Equal(t, "\\u003c", out.Payload)
}

func TestUnicodeEscapeAstralRuneUsesSurrogatePair(t *testing.T) {
	out, err := FamilyEncoding.Apply("\U0001F600", "unicode_escape", nil)
	require.NoError(t, err)
	assert.Equal(t, "\\ud83d\\ude00", out.Payload)
}

func TestHTMLNamedEntitiesCoverMarkupSet(t *testing.T) {
	out, err := FamilyEncoding.Apply(`<>"'&/=`, "html_entity_named", nil)
	require.NoError(t, err)
	assert.Equal(t, "&lt;&gt;&quot;&#39;&amp;&#47;&#61;", out.Payload)
}

func TestOverlongUTF8(t *testing.T) {
	out2, err := FamilyEncoding.Apply("<", "overlong_utf8_2byte", nil)
	require.NoError(t, err)
	assert.Equal(t, "%C0%BC", out2.Payload)

	out3, err := FamilyEncoding.Apply("<", "overlong_utf8_3byte", nil)
	require.NoError(t, err)
	assert.Equal(t, "%E0%80%BC", out3.Payload)
}

func TestJSObfuscateContainsNoLiteralPayloadBytes(t *testing.T) {
	out, err := FamilyEncoding.Apply("<script>", "js_obfuscate", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Payload, "eval(String.fromCharCode("))
	assert.NotContains(t, out.Payload, "<script>")
}

func TestEncodingUnknownVariant(t *testing.T) {
	_, err := FamilyEncoding.Apply("x", "rot13", nil)
	require.ErrorIs(t, err, ErrUnknownVariant)
}
