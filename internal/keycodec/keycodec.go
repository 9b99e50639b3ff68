// Package keycodec implements the bidirectional mapping between path
// segment arrays and flat storage keys used by the remote key-value
// service, with namespace prefixing, reserved-character escaping, and
// the allow-list checks used by the publish/subscribe filters.
package keycodec

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator delimits segments within a storage key.
const Separator = ':'

// escape/unescape use a backslash scheme so the reserved separator can
// appear losslessly inside a user-supplied path segment: ':' becomes
// "\c" and a literal backslash becomes "\\". This keeps Parse the left
// inverse of Build for any PathSegment, including one that already
// contains the separator or a backslash.
var segmentReplacer = strings.NewReplacer(`\`, `\\`, string(Separator), `\c`)

func escapeSegment(seg string) string {
	return segmentReplacer.Replace(seg)
}

func unescapeSegment(seg string) (string, error) {
	var b strings.Builder
	b.Grow(len(seg))
	for i := 0; i < len(seg); i++ {
		if seg[i] != '\\' {
			b.WriteByte(seg[i])
			continue
		}
		if i+1 >= len(seg) {
			return "", fmt.Errorf("keycodec: dangling escape in segment %q", seg)
		}
		i++
		switch seg[i] {
		case '\\':
			b.WriteByte('\\')
		case 'c':
			b.WriteByte(Separator)
		default:
			return "", fmt.Errorf("keycodec: invalid escape sequence %q in segment %q", seg[i-1:i+1], seg)
		}
	}
	return b.String(), nil
}

// Codec builds and parses storage keys for one namespace at one
// z-factor. The z-factor is folded into the effective namespace as a
// discriminator so peers configured with different decomposition depths
// never read or write one another's keys across different granularities.
type Codec struct {
	namespace string // caller-supplied logical namespace
	effective string // namespace + z-factor discriminator, used on the wire
	zFactor   int
}

// New returns a Codec for namespace at the given zFactor.
func New(namespace string, zFactor int) *Codec {
	return &Codec{
		namespace: namespace,
		effective: namespace + ":z" + strconv.Itoa(zFactor),
		zFactor:   zFactor,
	}
}

// Namespace returns the caller-supplied logical namespace (without the
// z-factor discriminator).
func (c *Codec) Namespace() string { return c.namespace }

// EffectiveNamespace returns the on-wire namespace, including the
// z-factor discriminator.
func (c *Codec) EffectiveNamespace() string { return c.effective }

// Build produces a storage key for path: the effective namespace
// followed by one escaped segment per path element.
func (c *Codec) Build(path []string) string {
	var b strings.Builder
	b.WriteString(c.effective)
	for _, seg := range path {
		b.WriteByte(Separator)
		b.WriteString(escapeSegment(seg))
	}
	return b.String()
}

// Parsed is the result of decoding a storage key.
type Parsed struct {
	Path       []string
	IsGranular bool // len(Path) > 1
}

// Parse strips the namespace prefix from key, splits the remainder on
// unescaped separators, and decodes each segment. Parse is the left
// inverse of Build: Parse(Build(p)) == p for any acyclic, separator-free
// PathSegment slice p (Build/Parse round-trip even when segments contain
// the separator, since it is escaped).
func (c *Codec) Parse(key string) (Parsed, error) {
	prefix := c.effective + string(Separator)
	if !strings.HasPrefix(key, prefix) {
		return Parsed{}, fmt.Errorf("keycodec: key %q does not belong to namespace %q", key, c.effective)
	}
	rest := key[len(prefix):]
	if rest == "" {
		return Parsed{}, fmt.Errorf("keycodec: key %q has no path segments", key)
	}

	var segments []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		switch {
		case escaped:
			cur.WriteByte(ch)
			escaped = false
		case ch == '\\':
			cur.WriteByte(ch)
			escaped = true
		case ch == Separator:
			segments = append(segments, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	segments = append(segments, cur.String())

	path := make([]string, len(segments))
	for i, seg := range segments {
		decoded, err := unescapeSegment(seg)
		if err != nil {
			return Parsed{}, err
		}
		path[i] = decoded
	}

	return Parsed{Path: path, IsGranular: len(path) > 1}, nil
}

// rangeSentinel sorts after any byte sequence a Build-produced key can
// contain, bounding a namespace range scan from above.
const rangeSentinel = "\xFF"

// RangeBounds returns the lexicographically half-open [start, end) range
// covering every key this Codec's namespace can produce.
func (c *Codec) RangeBounds() (start, end string) {
	start = c.effective + string(Separator)
	end = start + rangeSentinel
	return start, end
}

// MatchesAllow reports whether field is permitted by allow: an empty
// allow list permits everything (the default — all non-function
// top-level fields); otherwise field must exactly match an entry, or an
// entry ending in "*" must be a prefix of field up to the "*".
func MatchesAllow(field string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, pattern := range allow {
		if pattern == field {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(field, pattern[:len(pattern)-1]) {
			return true
		}
	}
	return false
}
