package tool

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
)

func newNetTools(t *testing.T, tb *Toolbox) []domain.Tool {
	t.Helper()
	return NewNetworkTools(tb, testLogger(), NewDuckDuckGoBackend(), nil)
}

func TestShellRunEchoesOutput(t *testing.T) {
	tb, _ := newTestToolbox(t)
	shell := findTool(t, newNetTools(t, tb), "shell_run")

	res := call(t, shell, `{"command":"echo hello; echo oops >&2; exit 3"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, `"code": 3`)
	assert.Contains(t, res.Content, "hello")
	assert.Contains(t, res.Content, "oops")
}

func TestShellRunCapsOutputStreams(t *testing.T) {
	tb, _ := newTestToolbox(t)
	tb.Limits.ShellMaxChars = 50
	shell := findTool(t, newNetTools(t, tb), "shell_run")

	res := call(t, shell, `{"command":"printf 'x%.0s' $(seq 1 200)"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, strings.Repeat("x", 50))
	assert.NotContains(t, res.Content, strings.Repeat("x", 51))
	assert.Contains(t, res.Content, "full output is 200 characters")
}

func TestShellRunRunsInWorkspaceRoot(t *testing.T) {
	tb, _ := newTestToolbox(t)
	shell := findTool(t, newNetTools(t, tb), "shell_run")
	writeWorkspaceFile(t, tb, "marker.md", "x")

	res := call(t, shell, `{"command":"ls"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "marker.md")
}

func TestShellRunDesktopOnly(t *testing.T) {
	tb, _ := newTestToolbox(t)
	tb.Platform = "mobile"
	shell := findTool(t, newNetTools(t, tb), "shell_run")

	res := call(t, shell, `{"command":"echo hi"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "only available on desktop")
}

func TestShellRunBansCanvasPaths(t *testing.T) {
	tb, _ := newTestToolbox(t)
	shell := findTool(t, newNetTools(t, tb), "shell_run")

	for _, cmd := range []string{
		`echo '{"shapes":[]}' > deck.canvas`,
		"cat Deck.CANVAS",
		"sed -i s/a/b/ boards/deck.canvas",
	} {
		res := call(t, shell, mustJSON(t, map[string]string{"command": cmd}))
		require.True(t, res.IsError, "command %q", cmd)
		assert.Contains(t, res.Content, "canvas_op")
	}
}

func TestShellRunBansDeployCLIs(t *testing.T) {
	tb, _ := newTestToolbox(t)
	shell := findTool(t, newNetTools(t, tb), "shell_run")

	for _, cmd := range []string{
		"netlify deploy",
		"/usr/local/bin/vercel --prod",
	} {
		res := call(t, shell, mustJSON(t, map[string]string{"command": cmd}))
		require.True(t, res.IsError, "command %q", cmd)
		assert.Contains(t, res.Content, "publish tool")
	}
}

func TestShellRunTimesOut(t *testing.T) {
	tb, _ := newTestToolbox(t)
	tb.Limits.ShellTimeout = 100 * time.Millisecond
	shell := findTool(t, newNetTools(t, tb), "shell_run")

	res := call(t, shell, `{"command":"sleep 5"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "exceeded")
	assert.True(t, res.IsRetryable)
}

func TestImageSearchUnconfigured(t *testing.T) {
	tb, _ := newTestToolbox(t)
	img := findTool(t, newNetTools(t, tb), "image_search")

	res := call(t, img, `{"query":"sunset"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "image_search_key")
}

func TestBraveBackendRequiresKey(t *testing.T) {
	_, err := NewBraveImageBackend("")
	require.Error(t, err)
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	tb, _ := newTestToolbox(t)
	tb.Limits.NetRatePerMinute = 2
	tools := NewNetworkTools(tb, testLogger(), NewDuckDuckGoBackend(), nil)
	core := tools[0].(*webSearchTool).netCore

	require.NoError(t, core.allow("web_search"))
	require.NoError(t, core.allow("web_fetch"))

	err := core.allow("web_fetch")
	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestWebFetchRejectsPrivateHosts(t *testing.T) {
	tb, _ := newTestToolbox(t)
	web := findTool(t, newNetTools(t, tb), "web_fetch")

	for _, u := range []string{
		"http://127.0.0.1/secret",
		"http://192.168.1.1/admin",
		"http://169.254.169.254/latest/meta-data/",
	} {
		res := call(t, web, mustJSON(t, map[string]string{"url": u}))
		require.True(t, res.IsError, "url %s", u)
	}
}

func TestWebFetchRejectsBadSchemes(t *testing.T) {
	tb, _ := newTestToolbox(t)
	web := findTool(t, newNetTools(t, tb), "web_fetch")

	res := call(t, web, `{"url":"file:///etc/passwd"}`)
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "http")
}

func TestStripMarkup(t *testing.T) {
	html := `<html><head><style>body{color:red}</style><script>evil()</script></head>
<body><h1>Title</h1><p>First para.</p><p>Second <b>bold</b> para.</p></body></html>`

	text := stripMarkup(html)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "First para.")
	assert.Contains(t, text, "Second bold para.")
	assert.NotContains(t, text, "evil()")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "<")
}

func TestDecodeDDGLink(t *testing.T) {
	wrapped := "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=abc"
	assert.Equal(t, "https://example.com/page", decodeDDGLink(wrapped))
	assert.Equal(t, "https://direct.example.com/", decodeDDGLink("https://direct.example.com/"))
}

func TestSearchCacheExpires(t *testing.T) {
	c := newSearchCache(30 * time.Millisecond)
	c.put("q", []SearchResult{{Title: "t", URL: "u"}})

	got, ok := c.get("q")
	require.True(t, ok)
	assert.Equal(t, "t", got[0].Title)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.get("q")
	assert.False(t, ok)
}

func TestScreenShellCommandAllowsNormalCommands(t *testing.T) {
	for _, cmd := range []string{
		"ls -la",
		"grep canvas notes.md", // the word alone is fine, the suffix is not
		"git status",
	} {
		assert.NoError(t, screenShellCommand(cmd), "command %q", cmd)
	}
}
