package symbols

import (
	"fmt"
	"net/url"
	"strings"
)

// Exchange segments accepted in instrument keys.
var segments = map[string]struct{}{
	"NSE_EQ":    {},
	"NSE_FO":    {},
	"NSE_INDEX": {},
	"NSE_COM":   {},
	"BSE_EQ":    {},
	"BSE_FO":    {},
	"BSE_INDEX": {},
	"MCX_FO":    {},
	"MCX_INDEX": {},
	"NCD_FO":    {},
	"BCD_FO":    {},
}

// Normalize converts the different spellings of an instrument key to the
// canonical SEGMENT|TOKEN form used by the market data feed.
// Examples:
//
//	nse_eq|INE002A01038   -> NSE_EQ|INE002A01038
//	NSE_EQ:INE002A01038   -> NSE_EQ|INE002A01038
//	NSE_EQ%7CINE002A01038 -> NSE_EQ|INE002A01038
func Normalize(key string) string {
	key = strings.TrimSpace(key)
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	sep := strings.IndexAny(key, "|:")
	if sep < 0 {
		return key
	}
	segment := strings.ToUpper(strings.TrimSpace(key[:sep]))
	token := strings.TrimSpace(key[sep+1:])
	return segment + "|" + token
}

// Validate reports whether key is a well formed instrument key.
func Validate(key string) error {
	segment, token, ok := strings.Cut(key, "|")
	if !ok {
		return fmt.Errorf("instrument key %q: missing '|' separator", key)
	}
	if _, known := segments[segment]; !known {
		return fmt.Errorf("instrument key %q: unknown segment %q", key, segment)
	}
	if token == "" {
		return fmt.Errorf("instrument key %q: empty token", key)
	}
	return nil
}

// Segment returns the exchange segment of a key, or "" when it has none.
func Segment(key string) string {
	segment, _, ok := strings.Cut(key, "|")
	if !ok {
		return ""
	}
	return segment
}

// IsIndex reports whether the key names an index rather than a tradable
// instrument. Index feeds carry no traded volume.
func IsIndex(key string) bool {
	return strings.HasSuffix(Segment(key), "_INDEX")
}

// PathEscape encodes a key for use as a single URL path element.
func PathEscape(key string) string {
	return url.PathEscape(key)
}
