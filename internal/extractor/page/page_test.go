package page

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goacyber/scamhound/internal/pipeline"
)

func testTarget() pipeline.Target {
	return pipeline.Target{Identifier: "http://example.com/offers", Kind: pipeline.KindPage}
}

func TestExtract_VisibleTextOnly(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>t</title><style>.x{}</style></head><body>
		<nav>menu</nav>
		<script>alert(1)</script>
		<p>Instant loan approval in minutes!</p>
		<p>  Send bank details  to claim. </p>
		<footer>contact us</footer>
	</body></html>`

	ex := New(Config{})
	got, err := ex.Extract([]byte(html), testTarget())
	require.NoError(t, err)

	require.Contains(t, got.Text, "Instant loan approval in minutes!")
	require.Contains(t, got.Text, "Send bank details  to claim.")
	require.NotContains(t, got.Text, "alert(1)")
	require.NotContains(t, got.Text, "menu")
	require.NotContains(t, got.Text, "contact us")
	require.NotContains(t, got.Text, ".x{}")
}

func TestExtract_DiscoversCanonicalizedLinks(t *testing.T) {
	t.Parallel()

	html := `<body>
		<a href="/signup/">join</a>
		<a href="HTTP://Other.Example.COM/page/">other</a>
		<a href="https://t.me/Promo_Bets">channel</a>
		<a href="/signup/">duplicate</a>
		<a href="#top">anchor</a>
		<a href="mailto:x@example.com">mail</a>
		<a href="javascript:void(0)">js</a>
	</body>`

	ex := New(Config{})
	got, err := ex.Extract([]byte(html), testTarget())
	require.NoError(t, err)

	require.Equal(t, []pipeline.Discovery{
		{Identifier: "http://example.com/signup", Kind: pipeline.KindPage},
		{Identifier: "http://other.example.com/page", Kind: pipeline.KindPage},
		{Identifier: "promo_bets", Kind: pipeline.KindChannel},
	}, got.Discovered)
}

func TestExtract_SkipsSelfLink(t *testing.T) {
	t.Parallel()

	html := `<body><a href="http://example.com/offers">self</a></body>`
	ex := New(Config{})
	got, err := ex.Extract([]byte(html), testTarget())
	require.NoError(t, err)
	require.Empty(t, got.Discovered)
}

func TestExtract_TruncatesLongText(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("casino ", 100)
	ex := New(Config{MaxTextLen: 50})
	got, err := ex.Extract([]byte("<body><p>"+body+"</p></body>"), testTarget())
	require.NoError(t, err)
	require.Len(t, []rune(got.Text), 50)
}

func TestExtract_CapsDiscoveries(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("<body>")
	for i := 0; i < 20; i++ {
		sb.WriteString(`<a href="/p` + string(rune('a'+i)) + `">x</a>`)
	}
	sb.WriteString("</body>")

	ex := New(Config{MaxDiscoveries: 5})
	got, err := ex.Extract([]byte(sb.String()), testTarget())
	require.NoError(t, err)
	require.Len(t, got.Discovered, 5)
}
