// Package email validates and normalizes email addresses.
//
// Syntax follows RFC 5322 dot-atom rules for the local part (with RFC 6531
// UTF-8 extensions) and IDNA 2008 for the domain. Deliverability is an optional
// DNS check for MX (or fallback A/AAAA) records.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// RFC 5321 limits.
const (
	maxLocalLength   = 64
	maxLabelLength   = 63
	maxDomainLength  = 253
	maxAddressLength = 254
)

// maxLookupLength bounds the raw input Plausible accepts. It leaves room for
// UTF-8 domains that shrink once converted to punycode.
const maxLookupLength = 4 * maxAddressLength

// Special-use and reserved top-level names (RFC 6761, RFC 7686) that can never receive mail.
var specialUseDomains = []string{
	"arpa",
	"invalid",
	"local",
	"localhost",
	"onion",
	"test",
	"example",
}

// atextSpecials are the non-alphanumeric ASCII characters allowed in a dot-atom.
const atextSpecials = "!#$%&'*+-/=?^_`{|}~"

// Result is the outcome of validating one address.
type Result struct {
	// Normalized is the canonical address when Valid, otherwise the input unchanged.
	Normalized string
	Valid      bool
	// Message is a human-readable reason when not Valid.
	Message string
}

// Resolver is the subset of *net.Resolver used for deliverability checks.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Validator checks email addresses. It is safe for concurrent use.
type Validator struct {
	checkDeliverability bool
	resolver            Resolver
	timeout             time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithDeliverability enables or disables the DNS deliverability check.
func WithDeliverability(enabled bool) Option {
	return func(v *Validator) { v.checkDeliverability = enabled }
}

// WithResolver overrides the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithTimeout bounds the deliverability lookups.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) { v.timeout = d }
}

// New creates a Validator. Deliverability checks are on by default.
func New(opts ...Option) *Validator {
	v := &Validator{
		checkDeliverability: true,
		resolver:            net.DefaultResolver,
		timeout:             5 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks an address and returns its normalized form.
func (v *Validator) Validate(ctx context.Context, address string) Result {
	normalized, asciiDomain, msg := parse(address)
	if msg != "" {
		return Result{Normalized: address, Message: msg}
	}

	if v.checkDeliverability {
		if msg := v.deliverable(ctx, asciiDomain); msg != "" {
			return Result{Normalized: address, Message: msg}
		}
	}

	return Result{Normalized: normalized, Valid: true}
}

// Plausible is a cheap shape check (non-empty, bounded length, one @-sign)
// for using an address as a storage key. It never touches DNS. Anything it
// rejects, Validate rejects too.
func Plausible(address string) bool {
	trimmed := strings.TrimSpace(address)
	return trimmed != "" && len(trimmed) <= maxLookupLength && strings.Count(trimmed, "@") == 1
}

// parse validates syntax. It returns the normalized address and the
// ASCII (punycode) domain, or a non-empty message on failure.
func parse(address string) (normalized, asciiDomain, msg string) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", "", "The email address is empty."
	}
	if !utf8.ValidString(trimmed) {
		return "", "", "The email address is not valid UTF-8."
	}

	if strings.Count(trimmed, "@") != 1 {
		return "", "", "The email address is not valid. It must have exactly one @-sign."
	}

	at := strings.IndexByte(trimmed, '@')
	local, domain := trimmed[:at], trimmed[at+1:]

	if local == "" {
		return "", "", "There must be something before the @-sign."
	}
	if domain == "" {
		return "", "", "There must be something after the @-sign."
	}

	local = norm.NFC.String(local)
	if msg := checkLocal(local); msg != "" {
		return "", "", msg
	}

	asciiDomain, unicodeDomain, msg := checkDomain(domain)
	if msg != "" {
		return "", "", msg
	}

	normalized = local + "@" + unicodeDomain
	if len(local)+1+len(asciiDomain) > maxAddressLength {
		return "", "", "The email address is too long."
	}

	return normalized, asciiDomain, ""
}

func checkLocal(local string) string {
	if len(local) > maxLocalLength {
		return fmt.Sprintf("The email address is too long before the @-sign (%d characters too many).", len(local)-maxLocalLength)
	}

	if strings.HasPrefix(local, ".") {
		return "An email address cannot start with a period."
	}
	if strings.HasSuffix(local, ".") {
		return "An email address cannot have a period immediately before the @-sign."
	}
	if strings.Contains(local, "..") {
		return "An email address cannot have two periods in a row."
	}

	var bad []string
	for _, r := range local {
		if !isAtext(r) {
			if d := displayRune(r); !slices.Contains(bad, d) {
				bad = append(bad, d)
			}
		}
	}
	if len(bad) > 0 {
		return fmt.Sprintf("The email address contains invalid characters before the @-sign: %s.", strings.Join(bad, ", "))
	}

	return ""
}

func checkDomain(domain string) (asciiDomain, unicodeDomain, msg string) {
	if strings.HasPrefix(domain, ".") {
		return "", "", "An email address cannot have a period immediately after the @-sign."
	}
	if strings.HasSuffix(domain, ".") {
		return "", "", "An email address cannot end with a period."
	}
	if strings.Contains(domain, "..") {
		return "", "", "An email address cannot have two periods in a row."
	}
	if strings.HasPrefix(domain, "[") {
		return "", "", "A bracketed IP address after the @-sign is not allowed here."
	}

	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", "", fmt.Sprintf("The part after the @-sign contains invalid characters (%v).", err)
	}
	ascii = strings.ToLower(ascii)

	if len(ascii) > maxDomainLength {
		return "", "", "The email address is too long after the @-sign."
	}

	// idna.Lookup leaves DNS length rules unchecked.
	for _, label := range strings.Split(ascii, ".") {
		if len(label) > maxLabelLength {
			return "", "", fmt.Sprintf("After the @-sign, periods cannot be separated by so many characters (%d characters too many).", len(label)-maxLabelLength)
		}
	}

	if !strings.Contains(ascii, ".") {
		return "", "", "The part after the @-sign is not valid. It should have a period."
	}

	tld := ascii[strings.LastIndexByte(ascii, '.')+1:]
	if isAllDigits(tld) || !isHostLabel(tld) {
		return "", "", "The part after the @-sign is not valid. It is not within a valid top-level domain."
	}

	for _, special := range specialUseDomains {
		if ascii == special || strings.HasSuffix(ascii, "."+special) {
			return "", "", "The part after the @-sign is a special-use or reserved name that cannot be used with email."
		}
	}

	uni, err := idna.Lookup.ToUnicode(ascii)
	if err != nil {
		return "", "", fmt.Sprintf("The part after the @-sign contains invalid characters (%v).", err)
	}

	return ascii, uni, ""
}

// deliverable returns a non-empty message when the domain cannot receive mail.
// Timeouts and temporary failures count as deliverable.
func (v *Validator) deliverable(ctx context.Context, asciiDomain string) string {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	mxs, err := v.resolver.LookupMX(ctx, asciiDomain)
	if err == nil && len(mxs) > 0 {
		if len(mxs) == 1 && (mxs[0].Host == "." || mxs[0].Host == "") {
			return fmt.Sprintf("The domain name %s does not accept email.", asciiDomain)
		}
		return ""
	}
	if err != nil && !isNotFound(err) {
		return ""
	}

	// No MX: RFC 5321 section 5.1 falls back to the address records.
	addrs, err := v.resolver.LookupHost(ctx, asciiDomain)
	if err == nil && len(addrs) > 0 {
		return ""
	}
	if err != nil && !isNotFound(err) {
		return ""
	}

	return fmt.Sprintf("The domain name %s does not exist.", asciiDomain)
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}

func isAtext(r rune) bool {
	switch {
	case r == '.':
		return true
	case r < utf8.RuneSelf:
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune(atextSpecials, r)
	default:
		// RFC 6531: any printable non-ASCII character.
		return unicode.IsPrint(r) && !unicode.IsSpace(r)
	}
}

func isHostLabel(s string) bool {
	if s == "" || strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func displayRune(r rune) string {
	if unicode.IsPrint(r) && !unicode.IsSpace(r) {
		return fmt.Sprintf("%q", string(r))
	}
	return fmt.Sprintf("%U", r)
}
