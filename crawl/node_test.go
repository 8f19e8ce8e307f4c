package crawl

import (
	"context"
	"testing"

	"github.com/crawlgraph/crawlgraph/internal/plugin"
)

func newTestPluginManager() *NodePluginManager {
	m := plugin.NewManager[*PluginContext](nil)
	m.Register(StageHTMLParsed, LinkExtractorPlugin{})
	m.Register(StageHTMLParsed, TitlePlugin{})
	m.Register(StageAfterScan, TextContentPlugin{})
	return m
}

const testHTML = `<html><head><title>Hello</title></head><body><a href="/a">A</a><a href="/b">B</a><p>some text</p></body></html>`

func TestNodeProcessHTMLExtractsLinksAndMetadata(t *testing.T) {
	ctx := context.Background()
	n := NewNode(ctx, "https://example.com/", 0, WithNodePlugins(newTestPluginManager()))

	links, err := n.processHTML(ctx, testHTML)
	if err != nil {
		t.Fatalf("processHTML: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d: %v", len(links), links)
	}
	if n.GetTitle() != "Hello" {
		t.Fatalf("expected title Hello, got %q", n.GetTitle())
	}
	if n.LifecycleStage() != HTMLStage {
		t.Fatalf("expected HTML_STAGE after processHTML")
	}
	hash, err := n.ContentHash()
	if err != nil || len(hash) != 64 {
		t.Fatalf("expected a 64-char content hash, got %q err=%v", hash, err)
	}
}

func TestNodeProcessHTMLTwiceReturnsNoLinks(t *testing.T) {
	ctx := context.Background()
	n := NewNode(ctx, "https://example.com/", 0)
	if _, err := n.processHTML(ctx, testHTML); err != nil {
		t.Fatalf("first processHTML: %v", err)
	}
	hashBefore, _ := n.ContentHash()
	links, err := n.processHTML(ctx, testHTML)
	if err != nil {
		t.Fatalf("second processHTML should degrade quietly, got %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("second processHTML should return no links, got %v", links)
	}
	if hashAfter, _ := n.ContentHash(); hashAfter != hashBefore {
		t.Fatalf("second processHTML must not mutate the node: hash %q -> %q", hashBefore, hashAfter)
	}
}

func TestNodeContentHashBeforeHTMLStageFails(t *testing.T) {
	n := NewNode(context.Background(), "https://example.com/", 0)
	if _, err := n.ContentHash(); err == nil {
		t.Fatalf("expected lifecycle error reading content hash at URL_STAGE")
	}
}

func TestNodeONNodeCreatedRunsSynchronously(t *testing.T) {
	m := plugin.NewManager[*PluginContext](nil)
	m.Register(StageNodeCreated, pluginFunc{fn: func(ctx *PluginContext) *PluginContext {
		ctx.ShouldScan = false
		return ctx
	}})
	n := NewNode(context.Background(), "https://example.com/", 0, WithNodePlugins(m))
	if n.ShouldScan() {
		t.Fatalf("expected ON_NODE_CREATED plugin to flip should_scan to false")
	}
}

type pluginFunc struct {
	fn func(*PluginContext) *PluginContext
}

func (pluginFunc) Name() string { return "plugin_func" }

func (p pluginFunc) OnStage(_ context.Context, _ plugin.Stage, ctx *PluginContext) (*PluginContext, error) {
	return p.fn(ctx), nil
}
