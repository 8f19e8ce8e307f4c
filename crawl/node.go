package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crawlgraph/crawlgraph/internal/plugin"
	"github.com/crawlgraph/crawlgraph/internal/treeadapter"
	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// Lifecycle is the node's position in the URL_STAGE → HTML_STAGE
// transition.
type Lifecycle string

const (
	URLStage  Lifecycle = "url_stage"
	HTMLStage Lifecycle = "html_stage"
)

// Node-plugin stages. ON_NODE_CREATED runs synchronously at
// construction and never sees HTML; the rest run during processHTML.
const (
	StageNodeCreated plugin.Stage = "ON_NODE_CREATED"
	StageBeforeScan  plugin.Stage = "ON_BEFORE_SCAN"
	StageHTMLParsed  plugin.Stage = "ON_HTML_PARSED"
	StageAfterScan   plugin.Stage = "ON_AFTER_SCAN"
)

// PluginContext is threaded through node-stage plugins. A
// plugin may mutate Metadata, UserData, and ExtractedLinks; the manager
// passes the (possibly mutated) context to the next plugin in the stage.
type PluginContext struct {
	Node           *Node
	URL            string
	Depth          int
	ShouldScan     bool
	CanCreateEdges bool
	HTML           string
	Tree           treeadapter.Tree
	Metadata       map[string]interface{}
	UserData       map[string]interface{}
	ExtractedLinks []string
}

// NodePluginManager threads a PluginContext through registered node
// plugins; it is the crawl-domain instantiation of the generic
// internal/plugin manager.
type NodePluginManager = plugin.Manager[*PluginContext]

// NewNodePluginManager builds an empty node-plugin manager.
func NewNodePluginManager(onError plugin.ErrorHook) *NodePluginManager {
	return plugin.NewManager[*PluginContext](onError)
}

// HTMLParser parses raw HTML into a queryable tree, offloaded to a worker
// pool. treeadapter.Adapter satisfies this.
type HTMLParser interface {
	Parse(ctx context.Context, html string) (treeadapter.Tree, error)
}

// ContentHashStrategy computes a deterministic digest for a node's parsed
// content. Implementations must be pure functions of the
// node's metadata/user_data; Node verifies determinism on first use.
type ContentHashStrategy interface {
	Hash(ctx context.Context, n *Node) (string, error)
}

// DefaultContentHash hashes user_data["text_content"] with SHA-256.
type DefaultContentHash struct{}

func (DefaultContentHash) Hash(_ context.Context, n *Node) (string, error) {
	n.mu.RLock()
	text, _ := n.userData["text_content"].(string)
	n.mu.RUnlock()
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), nil
}

// Node is a page or prospective page in the crawl graph.
type Node struct {
	mu sync.RWMutex

	id             string
	url            string
	depth          int
	shouldScan     bool
	canCreateEdges bool
	scanned        bool
	responseStatus int
	priority       int
	createdAt      time.Time
	lifecycleStage Lifecycle
	metadata       map[string]interface{}
	userData       map[string]interface{}
	contentHash    string

	plugins *NodePluginManager
	parser  HTMLParser
	hasher  ContentHashStrategy

	hashVerified bool
}

// NodeOption configures a Node at construction.
type NodeOption func(*Node)

func WithPriority(p int) NodeOption {
	return func(n *Node) { n.priority = p }
}

func WithCanCreateEdges(b bool) NodeOption {
	return func(n *Node) { n.canCreateEdges = b }
}

func WithParser(p HTMLParser) NodeOption {
	return func(n *Node) { n.parser = p }
}

func WithHashStrategy(h ContentHashStrategy) NodeOption {
	return func(n *Node) { n.hasher = h }
}

func WithNodePlugins(m *NodePluginManager) NodeOption {
	return func(n *Node) { n.plugins = m }
}

// NewNode constructs a Node at URL_STAGE. If a plugin manager is attached
// via WithNodePlugins, ON_NODE_CREATED plugins run synchronously before
// NewNode returns.
func NewNode(ctx context.Context, url string, depth int, opts ...NodeOption) *Node {
	n := &Node{
		id:             uuid.NewString(),
		url:            url,
		depth:          depth,
		shouldScan:     true,
		canCreateEdges: true,
		createdAt:      time.Now(),
		lifecycleStage: URLStage,
		metadata:       make(map[string]interface{}),
		userData:       make(map[string]interface{}),
		hasher:         DefaultContentHash{},
		parser:         treeadapter.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.plugins != nil {
		pctx := &PluginContext{
			Node:           n,
			URL:            n.url,
			Depth:          n.depth,
			ShouldScan:     n.shouldScan,
			CanCreateEdges: n.canCreateEdges,
			Metadata:       n.metadata,
			UserData:       n.userData,
		}
		result := n.plugins.Execute(ctx, StageNodeCreated, pctx)
		n.applyContext(result)
	}
	return n
}

func (n *Node) applyContext(ctx *PluginContext) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shouldScan = ctx.ShouldScan
	n.canCreateEdges = ctx.CanCreateEdges
	if ctx.Metadata != nil {
		n.metadata = ctx.Metadata
	}
	if ctx.UserData != nil {
		n.userData = ctx.UserData
	}
}

// ID returns the node's opaque identifier.
func (n *Node) ID() string { return n.id }

// URL returns the node's normalized absolute URL.
func (n *Node) URL() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.url
}

func (n *Node) Depth() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.depth
}

func (n *Node) ShouldScan() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.shouldScan
}

func (n *Node) SetShouldScan(b bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shouldScan = b
}

func (n *Node) CanCreateEdges() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.canCreateEdges
}

func (n *Node) SetCanCreateEdges(b bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canCreateEdges = b
}

func (n *Node) Scanned() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scanned
}

func (n *Node) MarkScanned() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scanned = true
}

func (n *Node) SetResponseStatus(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responseStatus = status
}

func (n *Node) ResponseStatus() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.responseStatus
}

func (n *Node) Priority() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.priority
}

func (n *Node) SetPriority(p int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.priority = p
}

func (n *Node) LifecycleStage() Lifecycle {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lifecycleStage
}

func (n *Node) ContentHash() (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.lifecycleStage != HTMLStage {
		return "", NewCrawlError(KindLifecycleFailure, n.url, ErrNotYetScanned)
	}
	return n.contentHash, nil
}

// UserData exposes the node's scratch map for read/write by callers that
// already hold a reference post-scan (e.g. the link processor reading
// explicit_scan_decisions).
func (n *Node) UserData() map[string]interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.userData
}

func (n *Node) Metadata() map[string]interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.metadata
}

// processHTML is the single mutator for URL_STAGE→HTML_STAGE.
// It returns the links extracted by ON_HTML_PARSED plugins. A second
// invocation logs and returns an empty link list without mutating the
// node further.
func (n *Node) processHTML(ctx context.Context, html string) ([]string, error) {
	n.mu.Lock()
	if n.lifecycleStage == HTMLStage {
		n.mu.Unlock()
		log.Printf("crawl: processHTML called twice for %s, returning no links", urlutil.RedactCredentials(n.url))
		return nil, nil
	}
	parser := n.parser
	n.mu.Unlock()

	tree, err := parser.Parse(ctx, html)
	if err != nil {
		return nil, NewCrawlError(KindParseFailure, n.url, err)
	}

	n.mu.RLock()
	pctx := &PluginContext{
		Node:           n,
		URL:            n.url,
		Depth:          n.depth,
		ShouldScan:     n.shouldScan,
		CanCreateEdges: n.canCreateEdges,
		HTML:           html,
		Tree:           tree,
		Metadata:       n.metadata,
		UserData:       n.userData,
	}
	plugins := n.plugins
	n.mu.RUnlock()

	if plugins != nil {
		pctx = plugins.Execute(ctx, StageBeforeScan, pctx)
		pctx = plugins.Execute(ctx, StageHTMLParsed, pctx)
	}

	n.mu.Lock()
	if pctx.Metadata != nil {
		n.metadata = pctx.Metadata
	}
	if pctx.UserData != nil {
		n.userData = pctx.UserData
	}
	n.mu.Unlock()

	if plugins != nil {
		pctx = plugins.Execute(ctx, StageAfterScan, pctx)
		n.mu.Lock()
		if pctx.Metadata != nil {
			n.metadata = pctx.Metadata
		}
		if pctx.UserData != nil {
			n.userData = pctx.UserData
		}
		n.mu.Unlock()
	}

	hash, err := n.computeHash(ctx)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.contentHash = hash
	n.lifecycleStage = HTMLStage
	n.mu.Unlock()

	return pctx.ExtractedLinks, nil
}

func (n *Node) computeHash(ctx context.Context) (string, error) {
	n.mu.RLock()
	hasher := n.hasher
	verified := n.hashVerified
	n.mu.RUnlock()

	h1, err := hasher.Hash(ctx, n)
	if err != nil {
		return "", NewCrawlError(KindLifecycleFailure, n.url, err)
	}
	if !isHex64(h1) {
		return "", NewCrawlError(KindLifecycleFailure, n.url, ErrInvalidHash)
	}

	if !verified {
		h2, err := hasher.Hash(ctx, n)
		if err != nil {
			return "", NewCrawlError(KindLifecycleFailure, n.url, err)
		}
		if h1 != h2 {
			return "", NewCrawlError(KindLifecycleFailure, n.url, ErrHashNondeterministic)
		}
		n.mu.Lock()
		n.hashVerified = true
		n.mu.Unlock()
	}
	return h1, nil
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Law-of-Demeter metadata accessors.

func (n *Node) metaString(key, def string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if v, ok := n.metadata[key].(string); ok {
		return v
	}
	return def
}

func (n *Node) GetTitle() string        { return n.metaString("title", "") }
func (n *Node) GetDescription() string  { return n.metaString("description", "") }
func (n *Node) GetH1() string           { return n.metaString("h1", "") }
func (n *Node) GetCanonicalURL() string { return n.metaString("canonical_url", "") }
func (n *Node) GetLanguage() string     { return n.metaString("language", "") }

func (n *Node) GetKeywords() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if v, ok := n.metadata["keywords"].([]string); ok {
		return v
	}
	return nil
}

func (n *Node) GetMetaValue(key string, def interface{}) interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if v, ok := n.metadata[key]; ok {
		return v
	}
	return def
}
