// Package pathmap implements the glob-to-regex path mapper of spec
// §4.7: a hand-written tokenizer (rather than leaning on any one
// regex engine's syntax extensions) that turns this system's own glob
// dialect — `*`, `**/`, `?`, `{a,b,c}`, `$Name` — into a standard-
// library regexp plus support for expanding `$Name`/`$1..$N`
// references inside refname templates.
package pathmap

import (
	"regexp"
	"strings"

	"github.com/alegrigoriev/svn2git/config"
	"github.com/alegrigoriev/svn2git/svnerr"
)

// Vars is the name -> value-list map configured in Config.Vars.
type Vars map[string][]string

func FromConfigVars(v map[string][]string) Vars { return Vars(v) }

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokStar
	tokStarStar
	tokQuestion
	tokAlt
)

type token struct {
	kind tokenKind
	text string   // tokLiteral
	alts []string // tokAlt
}

// isIdentChar reports whether r is a legal character inside a $Name
// variable reference.
func isIdentChar(r byte) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isIdentStart(r byte) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// expandVars substitutes every $Name reference in s with its value
// from vars, recursively, desugaring a multi-valued variable into a
// `{v1,v2,...}` alternation. active tracks variables currently being
// expanded, to reject self-reference cycles.
func expandVars(s string, vars Vars, active map[string]bool) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && isIdentStart(s[i+1]) {
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if active[name] {
				return "", svnerr.New(svnerr.ConfigParse, "cyclic variable expansion of $%s", name)
			}
			vals, ok := vars[name]
			if !ok {
				return "", svnerr.New(svnerr.ConfigParse, "glob references unbound variable $%s", name)
			}
			nested := map[string]bool{name: true}
			for k, v := range active {
				nested[k] = v
			}
			expanded := make([]string, len(vals))
			for k, v := range vals {
				ev, err := expandVars(v, vars, nested)
				if err != nil {
					return "", err
				}
				expanded[k] = ev
			}
			if len(expanded) == 1 {
				out.WriteString(expanded[0])
			} else {
				out.WriteString("{" + strings.Join(expanded, ",") + "}")
			}
			i = j
		} else {
			out.WriteByte(s[i])
			i++
		}
	}
	return out.String(), nil
}

// expandVarsForTemplate is like expandVars but a multi-valued variable
// expands to its first value rather than desugaring to an alternation,
// since a refname template must produce one concrete string. $1..$N
// numeric references are left untouched for later capture substitution.
func expandVarsForTemplate(s string, vars Vars, active map[string]bool) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && isIdentStart(s[i+1]) {
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if active[name] {
				return "", svnerr.New(svnerr.ConfigParse, "cyclic variable expansion of $%s", name)
			}
			vals, ok := vars[name]
			if !ok {
				return "", svnerr.New(svnerr.ConfigParse, "template references unbound variable $%s", name)
			}
			nested := map[string]bool{name: true}
			for k, v := range active {
				nested[k] = v
			}
			first := ""
			if len(vals) > 0 {
				ev, err := expandVarsForTemplate(vals[0], vars, nested)
				if err != nil {
					return "", err
				}
				first = ev
			}
			out.WriteString(first)
			i = j
		} else {
			out.WriteByte(s[i])
			i++
		}
	}
	return out.String(), nil
}

func tokenize(s string) []token {
	var toks []token
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			toks = append(toks, token{kind: tokLiteral, text: lit.String()})
			lit.Reset()
		}
	}
	i := 0
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], "**/"):
			flush()
			toks = append(toks, token{kind: tokStarStar})
			i += 3
		case s[i] == '*':
			flush()
			toks = append(toks, token{kind: tokStar})
			i++
		case s[i] == '?':
			flush()
			toks = append(toks, token{kind: tokQuestion})
			i++
		case s[i] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				lit.WriteByte(s[i])
				i++
				continue
			}
			flush()
			inner := s[i+1 : i+end]
			toks = append(toks, token{kind: tokAlt, alts: strings.Split(inner, ",")})
			i += end + 1
		default:
			lit.WriteByte(s[i])
			i++
		}
	}
	flush()
	return toks
}

// Compiled is a glob pattern compiled to a matcher.
type Compiled struct {
	Glob        string
	Regex       *regexp.Regexp
	NumCaptures int
}

// CompileGlob expands vars in glob, tokenizes the result, and compiles
// an anchored regular expression with capturing groups in token order
// for every `*`, `**/ ` and `{a,b,c}` token (`?` is a non-capturing
// single-character wildcard).
func CompileGlob(glob string, vars Vars) (*Compiled, error) {
	expanded, err := expandVars(glob, vars, nil)
	if err != nil {
		return nil, err
	}
	toks := tokenize(expanded)
	var pat strings.Builder
	pat.WriteByte('^')
	captures := 0
	for _, tk := range toks {
		switch tk.kind {
		case tokLiteral:
			pat.WriteString(regexp.QuoteMeta(tk.text))
		case tokStar:
			pat.WriteString("([^/]*)")
			captures++
		case tokStarStar:
			pat.WriteString("((?:[^/]+/)*)")
			captures++
		case tokQuestion:
			pat.WriteString(".")
		case tokAlt:
			quoted := make([]string, len(tk.alts))
			for i, a := range tk.alts {
				quoted[i] = regexp.QuoteMeta(a)
			}
			pat.WriteString("(" + strings.Join(quoted, "|") + ")")
			captures++
		}
	}
	pat.WriteByte('$')
	re, err := regexp.Compile(pat.String())
	if err != nil {
		return nil, svnerr.Wrap(svnerr.ConfigParse, err, "compiling glob %q", glob)
	}
	return &Compiled{Glob: glob, Regex: re, NumCaptures: captures}, nil
}

// ExpandTemplate expands $Name variable references textually in tmpl,
// then substitutes $1..$N placeholders with the corresponding capture
// group values from a successful Compiled.Regex match.
func ExpandTemplate(tmpl string, vars Vars, captures []string) (string, error) {
	expanded, err := expandVarsForTemplate(tmpl, vars, nil)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	i := 0
	for i < len(expanded) {
		if expanded[i] == '$' && i+1 < len(expanded) && expanded[i+1] >= '0' && expanded[i+1] <= '9' {
			j := i + 1
			for j < len(expanded) && expanded[j] >= '0' && expanded[j] <= '9' {
				j++
			}
			n := 0
			for _, c := range expanded[i+1 : j] {
				n = n*10 + int(c-'0')
			}
			if n >= 1 && n <= len(captures) {
				out.WriteString(captures[n-1])
			}
			i = j
		} else {
			out.WriteByte(expanded[i])
			i++
		}
	}
	return out.String(), nil
}

// Match is the result of successfully mapping a path.
type Match struct {
	Refname          string
	AltRefname       string
	RevisionRef      string
	BlockParent      bool
	InheritMergeinfo bool
	Unmapped         bool // matched an UnmapPath: suppress branching
}

type compiledRule struct {
	mp       config.MapPath
	compiled *Compiled
}

type compiledUnmap struct {
	up       config.UnmapPath
	compiled *Compiled
}

// Mapper compiles a Config's MapPath/UnmapPath/Project rules once and
// matches paths against them (see Match for precedence). Root-level
// rules come before every Project's rules; no project-default rules
// are expanded or appended.
type Mapper struct {
	vars   Vars
	rules  []compiledRule
	unmaps []compiledUnmap
	mapRef []*Compiled
	cfg    *config.Config
}

// NewMapper compiles every MapPath/UnmapPath in cfg (root-level, then
// each Project's, in declaration order) and every MapRef rewrite rule.
func NewMapper(cfg *config.Config) (*Mapper, error) {
	m := &Mapper{vars: Vars(cfg.Vars), cfg: cfg}
	addMapPath := func(mp config.MapPath) error {
		c, err := CompileGlob(mp.Path, m.vars)
		if err != nil {
			return err
		}
		m.rules = append(m.rules, compiledRule{mp: mp, compiled: c})
		return nil
	}
	addUnmapPath := func(up config.UnmapPath) error {
		c, err := CompileGlob(up.Path, m.vars)
		if err != nil {
			return err
		}
		m.unmaps = append(m.unmaps, compiledUnmap{up: up, compiled: c})
		return nil
	}
	for _, mp := range cfg.MapPaths {
		if err := addMapPath(mp); err != nil {
			return nil, err
		}
	}
	for _, up := range cfg.UnmapPaths {
		if err := addUnmapPath(up); err != nil {
			return nil, err
		}
	}
	for _, p := range cfg.Projects {
		for _, mp := range p.MapPaths {
			if err := addMapPath(mp); err != nil {
				return nil, err
			}
		}
		for _, up := range p.UnmapPaths {
			if err := addUnmapPath(up); err != nil {
				return nil, err
			}
		}
	}
	for _, mr := range cfg.MapRefs {
		c, err := CompileGlob(mr.Ref, m.vars)
		if err != nil {
			return nil, err
		}
		m.mapRef = append(m.mapRef, c)
	}
	return m, nil
}

// Match maps path against every rule. Within each kind the earliest
// declared matching rule wins, but every matching MapPath rule takes
// precedence over every matching UnmapPath rule: unmap rules are ranked
// after all map rules, whatever their position in the configuration.
func (m *Mapper) Match(path string) (Match, bool) {
	type hit struct {
		order int
		res   Match
	}
	var best *hit
	consider := func(order int, res Match) {
		if best == nil || order < best.order {
			best = &hit{order: order, res: res}
		}
	}
	for i, r := range m.rules {
		sub := r.compiled.Regex.FindStringSubmatch(path)
		if sub == nil {
			continue
		}
		captures := sub[1:]
		refname, err := ExpandTemplate(r.mp.Refname, m.vars, captures)
		if err != nil {
			continue
		}
		res := Match{Refname: m.applyRefRewrites(m.sanitize(refname)), BlockParent: r.mp.BlockParent || hasTrailingWildcard(r.mp.Path), InheritMergeinfo: r.mp.InheritMergeinfo}
		if r.mp.AltRefname != "" {
			if alt, err := ExpandTemplate(r.mp.AltRefname, m.vars, captures); err == nil {
				res.AltRefname = m.applyRefRewrites(m.sanitize(alt))
			}
		}
		if r.mp.RevisionRef != "" {
			if rr, err := ExpandTemplate(r.mp.RevisionRef, m.vars, captures); err == nil {
				res.RevisionRef = m.sanitize(rr)
			}
		}
		consider(i, res)
	}
	for i, u := range m.unmaps {
		if u.compiled.Regex.MatchString(path) {
			consider(len(m.rules)+i, Match{Unmapped: true, BlockParent: u.up.BlockParent})
		}
	}
	if best == nil {
		return Match{}, false
	}
	return best.res, true
}

func hasTrailingWildcard(glob string) bool {
	return strings.HasSuffix(glob, "/*") || strings.HasSuffix(glob, "/**") || strings.HasSuffix(glob, "/**/")
}

// applyRefRewrites passes a generated refname through every MapRef
// rule, first match wins, same as path mapping.
func (m *Mapper) applyRefRewrites(refname string) string {
	for i, c := range m.mapRef {
		sub := c.Regex.FindStringSubmatch(refname)
		if sub == nil {
			continue
		}
		mr := m.cfg.MapRefs[i]
		if mr.NewRef == "" {
			return refname
		}
		out, err := ExpandTemplate(mr.NewRef, m.vars, sub[1:])
		if err != nil {
			continue
		}
		return out
	}
	return refname
}

// sanitize applies the configured character-replacement rules to a
// finalized refname.
func (m *Mapper) sanitize(refname string) string {
	for _, r := range m.cfg.Replace {
		refname = strings.ReplaceAll(refname, r.Chars, r.With)
	}
	return refname
}

// Dedupe resolves refname collisions by appending "___<n>" per spec
// §6 (Git collaborator ref-name uniqueness rule). Call once with the
// full set of refnames about to be created, in creation order.
func Dedupe(refnames []string) []string {
	seen := map[string]int{}
	out := make([]string, len(refnames))
	for i, r := range refnames {
		n := seen[r]
		seen[r] = n + 1
		if n == 0 {
			out[i] = r
		} else {
			out[i] = r + "___" + itoa(n)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
