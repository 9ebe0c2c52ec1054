package mutation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentInjectSQLInfix(t *testing.T) {
	ctx := NewContext(0)
	ctx.Language = "sql"
	out, err := FamilyStructural.Apply("UNION SELECT 1", "comment_inject", ctx)
	require.NoError(t, err)
	assert.Equal(t, "UNION/**/SELECT/**/1", out.Payload)
}

func TestCommentInjectMySQLWrap(t *testing.T) {
	ctx := NewContext(0)
	ctx.Language = "mysql"
	out, err := FamilyStructural.Apply("SELECT 1", "comment_inject", ctx)
	require.NoError(t, err)
	assert.Equal(t, "/*!50000 SELECT 1 */", out.Payload)
}

func TestCommentInjectUnknownLanguageFallsBackToSQL(t *testing.T) {
	ctx := NewContext(0)
	ctx.Language = "cobol"
	out, err := FamilyStructural.Apply("a b", "comment_inject", ctx)
	require.NoError(t, err)
	assert.Equal(t, "a/**/b", out.Payload)
}

func TestCaseVariationIsSeedDeterministic(t *testing.T) {
	first, err := FamilyStructural.Apply("select union", "case_variation", NewContext(42))
	require.NoError(t, err)
	second, err := FamilyStructural.Apply("select union", "case_variation", NewContext(42))
	require.NoError(t, err)
	assert.Equal(t, first.Payload, second.Payload)
}

func TestCaseVariationStrategies(t *testing.T) {
	assert.Equal(t, "SeLeCt", caseVariation("select", "alternate"))
	assert.Equal(t, "sELECT", caseVariation("Select", "invert"))
	assert.Equal(t, "SELECT", caseVariation("select", "upper"))
	assert.Equal(t, "Select Union", caseVariation("select union", "title"))
}

func TestParamPolluteStrategies(t *testing.T) {
	assert.Equal(t, "id=x&id=safe", paramPollute("x", "id", "duplicate_first"))
	assert.Equal(t, "id=safe&id=x", paramPollute("x", "id", "duplicate_second"))
	assert.Equal(t, "id[]=safe&id[]=x", paramPollute("x", "id", "array"))
	assert.Equal(t, "id=safe;id=x", paramPollute("x", "id", "semicolon"))
}

func TestParamPolluteEscapesPayload(t *testing.T) {
	out := paramPollute("a b&c", "id", "duplicate_first")
	assert.NotContains(t, out, "a b&c")
	assert.Contains(t, out, "a+b%26c")
}

func TestVerbTunnelSetsMethodAndHeader(t *testing.T) {
	out, err := FamilyStructural.Apply("x", "verb_tunnel", NewContext(0))
	require.NoError(t, err)
	assert.Equal(t, "POST", out.Method)
	assert.Equal(t, "GET", out.Headers["X-HTTP-Method-Override"])
	assert.Equal(t, "x", out.Payload)
}

func TestChunkedFraming(t *testing.T) {
	out, err := FamilyStructural.Apply("ab", "chunked_framing", NewContext(0))
	require.NoError(t, err)
	assert.Equal(t, "1\r\na\r\n1\r\nb\r\n0\r\n\r\n", out.Payload)
}

func TestChunkedFramingSizesMultiByteRunes(t *testing.T) {
	out, err := FamilyStructural.Apply("é", "chunked_framing", NewContext(0))
	require.NoError(t, err)
	assert.Equal(t, "2\r\né\r\n0\r\n\r\n", out.Payload)
}

func TestWhitespaceVariants(t *testing.T) {
	ctx := NewContext(0)
	tab, _ := FamilyStructural.Apply("a b c", "whitespace_tab", ctx)
	assert.Equal(t, "a\tb\tc", tab.Payload)

	nl, _ := FamilyStructural.Apply("a b", "whitespace_newline", ctx)
	assert.Equal(t, "a\nb", nl.Payload)

	crlf, _ := FamilyStructural.Apply("a b", "whitespace_crlf", ctx)
	assert.Equal(t, "a\r\nb", crlf.Payload)
	assert.False(t, strings.Contains(crlf.Payload, " "))
}

func TestTimingVariants(t *testing.T) {
	short, err := FamilyTiming.Apply("x", "delay_short", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", short.Payload)
	assert.Greater(t, short.DelayBefore.Milliseconds(), int64(0))

	burst, err := FamilyTiming.Apply("x", "race_burst", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, burst.TimingSamples)
}

func TestProtocolHeaderTemplates(t *testing.T) {
	xff, err := FamilyProtocol.Apply("x", "header_xff_loopback", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", xff.Headers["X-Forwarded-For"])
	assert.Equal(t, "x", xff.Payload)

	crlf, err := FamilyProtocol.Apply("x", "crlf_injection", nil)
	require.NoError(t, err)
	assert.Equal(t, "x%0d%0aX-Injected:%201", crlf.Payload)
}
