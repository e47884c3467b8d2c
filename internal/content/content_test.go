package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Test Page</title>
	<meta name="description" content="Test description">
</head>
<body>
	<header>Header content</header>
	<nav>Navigation</nav>
	<main>
		<p>Main content here, long enough for the readability pass to keep.</p>
		<a href="https://example.com">Link 1</a>
		<a href="https://example.com">Link 1 again</a>
		<a href="https://other.com/page">Link 2</a>
		<a href="invalid-url">Invalid Link</a>
		<a href="/relative">Relative Link</a>
		<img src="https://example.com/image.jpg">
		<img src="https://example.com/image.jpg">
		<img src="invalid-image.jpg">
	</main>
	<footer>Footer content</footer>
	<script>var ignored = true;</script>
</body>
</html>`

func TestExtract(t *testing.T) {
	t.Parallel()

	page, err := Extract("https://example.com/post", []byte(sampleHTML))
	require.NoError(t, err)

	require.Equal(t, "Test Page", page.Title)
	require.Equal(t, "Test description", page.Description)

	// Sets are deduplicated and exclude non-absolute references.
	require.Equal(t, []string{"https://example.com", "https://other.com/page"}, page.Links)
	require.Equal(t, []string{"https://example.com/image.jpg"}, page.Images)

	require.Contains(t, page.TextContent, "Main content here")
}

func TestExtractOGDescriptionFallback(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<meta property="og:description" content="og fallback">
	</head><body></body></html>`

	page, err := Extract("https://example.com", []byte(html))
	require.NoError(t, err)
	require.Equal(t, "og fallback", page.Description)
}

func TestExtractEmptyDocument(t *testing.T) {
	t.Parallel()

	page, err := Extract("https://example.com", []byte("<html></html>"))
	require.NoError(t, err)
	require.Empty(t, page.Title)
	require.Empty(t, page.Links)
	require.Empty(t, page.Images)
}
