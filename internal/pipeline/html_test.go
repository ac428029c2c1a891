package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/scraper"
)

const sampleDoc = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Install Guide</title>
  <meta name="description" content="How to install the tool">
  <link rel="canonical" href="https://docs.example.com/install/">
</head>
<body>
  <nav><a href="/reference/">Reference</a></nav>
  <h1>Installation</h1>
  <p>Download the binary and unpack it.</p>
  <script>var tracker = "noise";</script>
  <ul>
    <li><a href="/install/linux">Linux</a></li>
    <li><a href="https://mirror.example.org/pkg">Mirror</a></li>
  </ul>
  <p><a href="#top">Top</a> <a href="mailto:help@example.com">Help</a> <a href="/install/linux">again</a></p>
</body>
</html>`

func TestHTMLCanProcess(t *testing.T) {
	t.Parallel()

	p := NewHTML(nil, zap.NewNop())
	require.True(t, p.CanProcess("text/html"))
	require.True(t, p.CanProcess("Text/HTML; charset=ISO-8859-1"))
	require.True(t, p.CanProcess("application/xhtml+xml"))
	require.False(t, p.CanProcess("application/json"))
	require.False(t, p.CanProcess("text/plain"))
}

func TestHTMLProcess(t *testing.T) {
	t.Parallel()

	p := NewHTML(nil, zap.NewNop())
	raw := scraper.RawContent{
		SourceURL: "https://docs.example.com/install/",
		MimeType:  "text/html",
		Body:      []byte(sampleDoc),
	}

	got, err := p.Process(context.Background(), raw, scraper.ProcessOptions{})
	require.NoError(t, err)
	require.Empty(t, got.Errors)

	require.Equal(t, "Install Guide", got.Metadata["title"])
	require.Equal(t, "How to install the tool", got.Metadata["description"])
	require.Equal(t, "en", got.Metadata["language"])
	require.Equal(t, "https://docs.example.com/install/", got.Metadata["canonical"])

	require.Equal(t, []string{
		"/reference/",
		"/install/linux",
		"https://mirror.example.org/pkg",
	}, got.Links, "fragments, mailto, and duplicates are dropped")

	require.Contains(t, got.TextContent, "Installation")
	require.Contains(t, got.TextContent, "Download the binary and unpack it.")
	require.NotContains(t, got.TextContent, "noise", "script bodies are not content")
	require.NotContains(t, got.TextContent, "Reference", "nav text is not content")
	require.NotContains(t, got.TextContent, "Install Guide", "head is not content")
}

func TestHTMLProcessDecodesDeclaredCharset(t *testing.T) {
	t.Parallel()

	p := NewHTML(nil, zap.NewNop())
	body := append([]byte("<html><body><p>caf"), 0xE9)
	body = append(body, []byte("</p></body></html>")...)
	raw := scraper.RawContent{
		SourceURL: "https://docs.example.com/",
		MimeType:  "text/html",
		Charset:   "ISO-8859-1",
		Body:      body,
	}

	got, err := p.Process(context.Background(), raw, scraper.ProcessOptions{})
	require.NoError(t, err)
	require.Contains(t, got.TextContent, "café")
}

func TestHTMLRenderAlways(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{result: scraper.RenderResult{
		HTML:     `<html><head><title>Rendered</title></head><body><p>From the browser.</p></body></html>`,
		FinalURL: "https://docs.example.com/spa/#/home",
	}}
	p := NewHTML(r, zap.NewNop())
	raw := scraper.RawContent{
		SourceURL: "https://docs.example.com/spa/",
		MimeType:  "text/html",
		Body:      []byte(`<html><body><div id="root"></div></body></html>`),
	}

	got, err := p.Process(context.Background(), raw, scraper.ProcessOptions{RenderMode: scraper.RenderAlways})
	require.NoError(t, err)
	require.Equal(t, []string{"https://docs.example.com/spa/"}, r.calls)
	require.Equal(t, true, got.Metadata["rendered"])
	require.Equal(t, "Rendered", got.Metadata["title"])
	require.Contains(t, got.TextContent, "From the browser.")
}

func TestHTMLRenderAutoSkipsServerRendered(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{}
	p := NewHTML(r, zap.NewNop())
	raw := scraper.RawContent{
		SourceURL: "https://docs.example.com/",
		MimeType:  "text/html",
		Body:      []byte(`<html><body><div id="app"><p>Plenty of server-rendered prose.</p></div></body></html>`),
	}

	got, err := p.Process(context.Background(), raw, scraper.ProcessOptions{RenderMode: scraper.RenderAuto})
	require.NoError(t, err)
	require.Empty(t, r.calls, "a filled mount point must not trigger rendering")
	require.Contains(t, got.TextContent, "Plenty of server-rendered prose.")
}

func TestHTMLRenderAutoPromotesEmptyShell(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{result: scraper.RenderResult{
		HTML: `<html><body><div id="app"><p>Hydrated content.</p></div></body></html>`,
	}}
	p := NewHTML(r, zap.NewNop())
	raw := scraper.RawContent{
		SourceURL: "https://docs.example.com/spa/",
		MimeType:  "text/html",
		Body:      []byte(`<html><body><div id="app"></div><script src="/bundle.js"></script></body></html>`),
	}

	got, err := p.Process(context.Background(), raw, scraper.ProcessOptions{RenderMode: scraper.RenderAuto})
	require.NoError(t, err)
	require.Equal(t, []string{"https://docs.example.com/spa/"}, r.calls)
	require.Contains(t, got.TextContent, "Hydrated content.")
}

func TestHTMLRenderFailureKeepsStaticHTML(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{err: errors.New("browser crashed")}
	p := NewHTML(r, zap.NewNop())
	raw := scraper.RawContent{
		SourceURL: "https://docs.example.com/",
		MimeType:  "text/html",
		Body:      []byte(`<html><body><p>Static fallback text.</p></body></html>`),
	}

	got, err := p.Process(context.Background(), raw, scraper.ProcessOptions{RenderMode: scraper.RenderAlways})
	require.NoError(t, err)
	require.Len(t, got.Errors, 1)
	require.Contains(t, got.Errors[0].Error(), "browser crashed")
	require.Contains(t, got.TextContent, "Static fallback text.")
}

func TestNeedsRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "   ", true},
		{"no markers", "<html><body><p>An ordinary page with text.</p></body></html>", false},
		{"empty root", `<html><body><div id="root"></div></body></html>`, true},
		{"filled app", `<html><body><div id="app">Real text here</div></body></html>`, false},
		{"marker without mount", `<html><head><script>window.__NEXT_DATA__={}</script></head><body></body></html>`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, needsRender(tt.content))
		})
	}
}

func TestHTMLCloseShutsRenderer(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{}
	p := NewHTML(r, zap.NewNop())
	require.NoError(t, p.Close())
	require.True(t, r.closed)

	require.NoError(t, NewHTML(nil, zap.NewNop()).Close())
}

type fakeRenderer struct {
	result scraper.RenderResult
	err    error
	calls  []string
	closed bool
}

func (f *fakeRenderer) Render(_ context.Context, url string) (scraper.RenderResult, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return scraper.RenderResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}
