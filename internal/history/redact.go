package history

import "regexp"

// Placeholders substituted for sensitive spans.
const (
	RedactedEmail     = "[REDACTED_EMAIL]"
	RedactedPhone     = "[REDACTED_PHONE]"
	RedactedAddress   = "[REDACTED_ADDRESS]"
	RedactedFinancial = "[REDACTED_FINANCIAL]"
	RedactedSecret    = "[REDACTED_SECRET]"
)

// RedactionRules is the instruction block sent with every digest request.
const RedactionRules = `Redact any highly sensitive personal or security-related information from the text below.

REDACT the following if present:
- Credit card or debit card numbers
- Bank account numbers or routing numbers
- Social Security / Social Insurance numbers
- Email addresses
- Phone numbers (any format)
- Exact street addresses (house number + street)
- Passwords, API keys, access tokens, or secrets

Replace each redacted item with a clear placeholder:
- [REDACTED_EMAIL]
- [REDACTED_PHONE]
- [REDACTED_ADDRESS]
- [REDACTED_FINANCIAL]
- [REDACTED_SECRET]

Do NOT redact:
- First names only
- Company or business names
- Cities or regions
- General descriptions of needs or services

Do not add or remove content other than redaction.`

type redaction struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: longer digit runs are claimed as financial before the phone
// pattern can split them.
var redactions = []redaction{
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), RedactedEmail},
	{regexp.MustCompile(`(?i)\b(password|passcode|passwd|api[ _-]?key|access[ _-]?token|token|secret)(\s*(?:is|:|=)\s*)\S+`), "${1}${2}" + RedactedSecret},
	{regexp.MustCompile(`\b(?:sk|pk|rk)[-_][A-Za-z0-9_\-]{16,}\b`), RedactedSecret},
	{regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`), RedactedFinancial},
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), RedactedFinancial},
	{regexp.MustCompile(`(?i)\b(account|acct|routing|transit|iban)(\s*(?:number|num|no\.?|#)?\s*(?:is|:)?\s*)\d[\d -]{4,}\d`), "${1}${2}" + RedactedFinancial},
	{regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-]?)?(?:\(\d{3}\)|\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}\b`), RedactedPhone},
	{regexp.MustCompile(`\b\d{1,6}\s+(?:[A-Z0-9][A-Za-z0-9'.\-]*\s+){1,3}(?i:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|way|court|ct|place|pl|terrace|crescent|cres|highway|hwy|parkway|pkwy)\b\.?`), RedactedAddress},
}

// Redact replaces emails, phone numbers, street addresses, financial numbers
// and credential-like strings with typed placeholders. Names, businesses and
// places are left intact.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}
