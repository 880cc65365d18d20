package email

import (
	"net/mail"
	"strings"
)

// NormalizeSender extracts and normalizes an email address from a From
// header or address:
//   - Parses RFC 5322 values like "Name <user+alias@Example.COM>"
//   - Lowercases
//   - Strips +alias in the local part: user+news@x.com -> user@x.com
//
// Returns empty string if parsing fails or the address is missing.
func NormalizeSender(fromHeader string) string {
	if fromHeader == "" {
		return ""
	}
	addr, err := mail.ParseAddress(fromHeader)
	if err != nil || addr == nil {
		// Some headers may be a list; try a crude fallback by splitting
		// on comma.
		parts := strings.Split(fromHeader, ",")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			a, e := mail.ParseAddress(p)
			if e == nil && a != nil {
				addr = a
				break
			}
		}
		if addr == nil {
			return ""
		}
	}

	address := strings.ToLower(strings.TrimSpace(addr.Address))
	at := strings.LastIndexByte(address, '@')
	if at <= 0 {
		return address
	}
	local := address[:at]
	domain := address[at+1:]

	// Strip +alias in the local part so one mailing identity groups as
	// one sender. Dots are kept as-is to avoid over-grouping across
	// providers that treat them as significant.
	if plus := strings.IndexByte(local, '+'); plus > -1 {
		local = local[:plus]
	}

	return local + "@" + domain
}
