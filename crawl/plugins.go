package crawl

import (
	"context"

	"github.com/crawlgraph/crawlgraph/internal/plugin"
	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// LinkExtractorPlugin is a reference ON_HTML_PARSED plugin that walks the
// parsed tree for anchor hrefs, resolves them against the node's URL, and
// populates PluginContext.ExtractedLinks. Link extraction is a plugin
// concern rather than engine behavior, but a crawl with zero extractor
// plugins never discovers anything, so this reference implementation
// ships for tests and the examples.
type LinkExtractorPlugin struct{}

func (LinkExtractorPlugin) Name() string { return "link_extractor" }

func (LinkExtractorPlugin) OnStage(_ context.Context, _ plugin.Stage, ctx *PluginContext) (*PluginContext, error) {
	if ctx.Tree == nil {
		return ctx, nil
	}
	anchors := ctx.Tree.FindAll("a[href]")
	links := make([]string, 0, len(anchors))
	seen := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		href, ok := a.Attribute("href")
		if !ok || href == "" || urlutil.IsSpecialLink(href) {
			continue
		}
		abs, err := urlutil.MakeAbsolute(ctx.URL, href)
		if err != nil {
			continue
		}
		abs = urlutil.Normalize(abs)
		if !urlutil.IsValid(abs) {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	ctx.ExtractedLinks = links
	return ctx, nil
}

// TextContentPlugin is a reference ON_AFTER_SCAN plugin that populates
// user_data["text_content"] from the parsed tree's text, feeding the
// default content-hash strategy.
type TextContentPlugin struct{}

func (TextContentPlugin) Name() string { return "text_content" }

func (TextContentPlugin) OnStage(_ context.Context, _ plugin.Stage, ctx *PluginContext) (*PluginContext, error) {
	if ctx.Tree == nil {
		return ctx, nil
	}
	if ctx.UserData == nil {
		ctx.UserData = make(map[string]interface{})
	}
	ctx.UserData["text_content"] = ctx.Tree.Text()
	return ctx, nil
}

// TitlePlugin is a reference ON_HTML_PARSED plugin that populates the
// node's title/description metadata from <title> and meta description.
type TitlePlugin struct{}

func (TitlePlugin) Name() string { return "title_meta" }

func (TitlePlugin) OnStage(_ context.Context, _ plugin.Stage, ctx *PluginContext) (*PluginContext, error) {
	if ctx.Tree == nil {
		return ctx, nil
	}
	if ctx.Metadata == nil {
		ctx.Metadata = make(map[string]interface{})
	}
	if title, ok := ctx.Tree.Find("title"); ok {
		ctx.Metadata["title"] = title.Text()
	}
	if desc, ok := ctx.Tree.Find(`meta[name="description"]`); ok {
		if content, ok := desc.Attribute("content"); ok {
			ctx.Metadata["description"] = content
		}
	}
	if h1, ok := ctx.Tree.Find("h1"); ok {
		ctx.Metadata["h1"] = h1.Text()
	}
	if canonical, ok := ctx.Tree.Find(`link[rel="canonical"]`); ok {
		if href, ok := canonical.Attribute("href"); ok {
			ctx.Metadata["canonical_url"] = href
		}
	}
	return ctx, nil
}
