package crawl

import (
	"net/url"
	"regexp"

	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// TriState lets a rule leave a decision untouched instead of forcing it.
type TriState int

const (
	Unset TriState = iota
	True
	False
)

func (t TriState) Bool(def bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return def
	}
}

// URLRule conditionally overrides a prospective node's scan decisions
// when its URL matches Pattern. Rules are evaluated in
// Priority order, highest first; the first matching rule wins each
// decision it sets.
type URLRule struct {
	Pattern          *regexp.Regexp
	Priority         int
	ShouldScan       TriState
	ShouldFollowLinks TriState
	CreateEdge       TriState
}

func NewURLRule(pattern string, priority int) (*URLRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, NewCrawlError(KindInvalidURL, pattern, err)
	}
	return &URLRule{Pattern: re, Priority: priority}, nil
}

func (r *URLRule) Matches(url string) bool { return r.Pattern.MatchString(url) }

// ApplyURLRules evaluates rules against url in descending priority order
// and returns the effective (should_scan, should_follow_links,
// create_edge) decisions, each defaulting to its corresponding default
// when no rule sets it.
func ApplyURLRules(rules []*URLRule, url string, defaultScan, defaultFollow, defaultEdge bool) (scan, follow, edge bool) {
	scan, follow, edge = defaultScan, defaultFollow, defaultEdge
	scanSet, followSet, edgeSet := false, false, false

	ordered := sortedByPriorityDesc(rules)
	for _, r := range ordered {
		if !r.Matches(url) {
			continue
		}
		if !scanSet && r.ShouldScan != Unset {
			scan = r.ShouldScan.Bool(defaultScan)
			scanSet = true
		}
		if !followSet && r.ShouldFollowLinks != Unset {
			follow = r.ShouldFollowLinks.Bool(defaultFollow)
			followSet = true
		}
		if !edgeSet && r.CreateEdge != Unset {
			edge = r.CreateEdge.Bool(defaultEdge)
			edgeSet = true
		}
		if scanSet && followSet && edgeSet {
			break
		}
	}
	return scan, follow, edge
}

// matchFirstRule returns the highest-priority rule matching url, or nil.
func matchFirstRule(rules []*URLRule, url string) *URLRule {
	for _, r := range sortedByPriorityDesc(rules) {
		if r.Matches(url) {
			return r
		}
	}
	return nil
}

// applyRuleToNode writes should_scan / can_create_edges onto n when the
// rule's corresponding tri-state is set.
func applyRuleToNode(r *URLRule, n *Node) {
	if r == nil {
		return
	}
	if r.ShouldScan != Unset {
		n.SetShouldScan(r.ShouldScan == True)
	}
	if r.ShouldFollowLinks != Unset {
		n.SetCanCreateEdges(r.ShouldFollowLinks == True)
	}
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func sortedByPriorityDesc(rules []*URLRule) []*URLRule {
	out := make([]*URLRule, len(rules))
	copy(out, rules)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority > out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// EdgeAction is the decision an EdgeRule attaches to a matching edge
// candidate.
type EdgeAction string

const (
	EdgeActionAllow EdgeAction = "allow"
	EdgeActionDeny  EdgeAction = "deny"
)

// EdgeRule conditionally allows or denies edge creation between a source
// and target URL based on pattern and depth-difference constraints.
type EdgeRule struct {
	SourcePattern *regexp.Regexp
	TargetPattern *regexp.Regexp
	MaxDepthDiff  int // <=0 means unconstrained
	Action        EdgeAction
}

func (r *EdgeRule) Matches(sourceURL, targetURL string, depthDiff int) bool {
	if r.SourcePattern != nil && !r.SourcePattern.MatchString(sourceURL) {
		return false
	}
	if r.TargetPattern != nil && !r.TargetPattern.MatchString(targetURL) {
		return false
	}
	if r.MaxDepthDiff > 0 && depthDiff > r.MaxDepthDiff {
		return false
	}
	return true
}

// ApplyEdgeRules returns true if the edge is permitted. The first
// matching rule decides; with no matching rule the edge defaults to
// allowed.
func ApplyEdgeRules(rules []*EdgeRule, sourceURL, targetURL string, depthDiff int) bool {
	for _, r := range rules {
		if r.Matches(sourceURL, targetURL, depthDiff) {
			return r.Action == EdgeActionAllow
		}
	}
	return true
}

// matchFirstEdgeRule returns the first rule matching the candidate edge,
// or nil if none do.
func matchFirstEdgeRule(rules []*EdgeRule, sourceURL, targetURL string, depthDiff int) *EdgeRule {
	for _, r := range rules {
		if r.Matches(sourceURL, targetURL, depthDiff) {
			return r
		}
	}
	return nil
}

// Sentinel entries recognized in DomainFilter's allowed_domains list.
const (
	DomainSentinelAny               = "*"
	DomainSentinelBase              = "domain"
	DomainSentinelSubdomains        = "subdomains"
	DomainSentinelBaseAndSubdomains = "domain+subdomains"
)

// DomainFilter admits or rejects a URL's host against a base domain plus
// an allow-list (which may contain sentinels) and a deny-list.
type DomainFilter struct {
	baseDomain     string
	allowedDomains map[string]struct{}
	blockedDomains map[string]struct{}
}

func NewDomainFilter(baseDomain string, allowedDomains, blockedDomains []string) *DomainFilter {
	f := &DomainFilter{
		baseDomain:     baseDomain,
		allowedDomains: make(map[string]struct{}, len(allowedDomains)),
		blockedDomains: make(map[string]struct{}, len(blockedDomains)),
	}
	for _, d := range allowedDomains {
		f.allowedDomains[d] = struct{}{}
	}
	for _, d := range blockedDomains {
		f.blockedDomains[d] = struct{}{}
	}
	return f
}

func isSubdomainOf(host, base string) bool {
	return host != base && len(host) > len(base)+1 &&
		host[len(host)-len(base)-1:] == "."+base
}

// IsAllowed reports whether rawURL's host passes the filter.
func (f *DomainFilter) IsAllowed(rawURL string) bool {
	host := urlutil.GetDomain(rawURL)
	if _, blocked := f.blockedDomains[host]; blocked {
		return false
	}
	if _, ok := f.allowedDomains[DomainSentinelAny]; ok {
		return true
	}
	if _, ok := f.allowedDomains[DomainSentinelBase]; ok && host == f.baseDomain {
		return true
	}
	if _, ok := f.allowedDomains[DomainSentinelSubdomains]; ok && isSubdomainOf(host, f.baseDomain) {
		return true
	}
	if _, ok := f.allowedDomains[DomainSentinelBaseAndSubdomains]; ok {
		if host == f.baseDomain || isSubdomainOf(host, f.baseDomain) {
			return true
		}
	}
	if _, ok := f.allowedDomains[host]; ok {
		return true
	}
	return false
}

// PathFilter admits only URLs whose path matches at least one of a set
// of prefixes, or denies URLs matching a set of excluded prefixes.
type PathFilter struct {
	includePrefixes []string
	excludePrefixes []string
}

func NewPathFilter(include, exclude []string) *PathFilter {
	return &PathFilter{includePrefixes: include, excludePrefixes: exclude}
}

// IsAllowed accepts a bare path or an absolute URL; for an absolute URL
// only its path is matched against the prefixes.
func (f *PathFilter) IsAllowed(path string) bool {
	if u, err := url.Parse(path); err == nil && u.Host != "" {
		path = u.Path
	}
	for _, p := range f.excludePrefixes {
		if hasPrefix(path, p) {
			return false
		}
	}
	if len(f.includePrefixes) == 0 {
		return true
	}
	for _, p := range f.includePrefixes {
		if hasPrefix(path, p) {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
