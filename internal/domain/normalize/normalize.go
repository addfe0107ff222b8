// Package normalize canonicalizes raw emails and domains to comparable keys.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultMultiPartSuffixes is the built-in list of two-label public suffixes.
var DefaultMultiPartSuffixes = []string{
	"co.uk", "org.uk", "gov.uk", "ac.uk", "me.uk", "ltd.uk", "plc.uk", "net.uk", "sch.uk", "nhs.uk",
	"com.au", "net.au", "org.au", "edu.au", "gov.au", "id.au",
	"co.nz", "org.nz", "net.nz", "govt.nz", "ac.nz",
	"co.jp", "ne.jp", "or.jp", "ac.jp", "go.jp",
	"co.in", "net.in", "org.in", "firm.in", "gen.in", "ind.in",
	"com.br", "net.br", "org.br", "gov.br",
	"com.mx", "org.mx", "gob.mx",
	"co.za", "org.za", "gov.za",
	"com.sg", "org.sg", "gov.sg", "edu.sg",
	"com.cn", "net.cn", "org.cn", "gov.cn",
	"com.hk", "org.hk", "com.tw", "org.tw",
	"co.kr", "or.kr",
	"com.ar", "com.co", "com.pe", "com.tr", "com.my", "com.ph", "com.vn",
	"co.il", "org.il", "co.id", "or.id", "co.th", "in.th",
}

// Normalizer maps raw input to registrable domains. It is immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	suffixes map[string]struct{}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithSuffixes adds multi-part suffixes to the list.
func WithSuffixes(suffixes ...string) Option {
	return func(n *Normalizer) {
		for _, s := range suffixes {
			if s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), "."); s != "" {
				n.suffixes[s] = struct{}{}
			}
		}
	}
}

// WithoutDefaults starts from an empty suffix list.
func WithoutDefaults() Option {
	return func(n *Normalizer) {
		n.suffixes = make(map[string]struct{})
	}
}

// New builds a Normalizer seeded with DefaultMultiPartSuffixes.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{suffixes: make(map[string]struct{}, len(DefaultMultiPartSuffixes))}
	WithSuffixes(DefaultMultiPartSuffixes...)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SuffixFile is the TOML layout of a suffix override file:
//
//	mode = "extend" # or "replace"
//	multi_part_suffixes = ["com.tr", "co.kr"]
type SuffixFile struct {
	Mode     string   `toml:"mode"`
	Suffixes []string `toml:"multi_part_suffixes"`
}

// LoadSuffixFile reads a suffix override file and returns the options it implies.
func LoadSuffixFile(path string) ([]Option, error) {
	var f SuffixFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSuffixFile, path, err)
	}
	var opts []Option
	switch strings.ToLower(strings.TrimSpace(f.Mode)) {
	case "", "extend":
	case "replace":
		opts = append(opts, WithoutDefaults())
	default:
		return nil, fmt.Errorf("%w: %s: unknown mode %q", ErrSuffixFile, path, f.Mode)
	}
	return append(opts, WithSuffixes(f.Suffixes...)), nil
}

// Suffixes returns the configured multi-part suffixes, sorted.
func (n *Normalizer) Suffixes() []string {
	out := make([]string, 0, len(n.suffixes))
	for s := range n.suffixes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Domain reduces an email, URL or host to its registrable domain.
// It returns false when nothing usable can be derived.
func (n *Normalizer) Domain(raw string) (string, bool) {
	host := hostOf(raw)
	if host == "" {
		return "", false
	}
	labels := strings.Split(host, ".")
	// Single-label hosts are never registrable.
	if len(labels) < 2 {
		return "", false
	}
	for _, l := range labels {
		if !validLabel(l) {
			return "", false
		}
	}
	keep := 2
	if _, ok := n.suffixes[strings.Join(labels[len(labels)-2:], ".")]; ok {
		keep = 3
	}
	if len(labels) < keep {
		return "", false
	}
	return strings.Join(labels[len(labels)-keep:], "."), true
}

// Email lowercases and trims an address. It returns false when the
// address has no local part or no usable domain.
func (n *Normalizer) Email(raw string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndexByte(e, '@')
	if at <= 0 || at == len(e)-1 {
		return "", false
	}
	if _, ok := n.Domain(e[at+1:]); !ok {
		return "", false
	}
	return e, true
}

// EmailDomain returns the registrable domain of an address.
func (n *Normalizer) EmailDomain(raw string) (string, bool) {
	e, ok := n.Email(raw)
	if !ok {
		return "", false
	}
	return n.Domain(e[strings.LastIndexByte(e, '@')+1:])
}

// hostOf strips everything around the host part: mailbox, scheme,
// credentials, port, path, query, fragment and a leading www.
func hostOf(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, ".")
	s = strings.TrimPrefix(s, "www.")
	return s
}

func validLabel(l string) bool {
	if l == "" || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}
