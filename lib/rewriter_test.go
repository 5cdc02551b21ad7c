package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rewriteHit(t *testing.T, html string, urlMap map[string]string) string {
	t.Helper()
	frag, err := ParseFragment(HTMLHit{HTML: html})
	require.NoError(t, err)
	frag.Rewrite(urlMap)
	out, err := frag.Serialize()
	require.NoError(t, err)
	return out
}

// TestRewrite tests attribute substitution and lazy-attribute stripping
func TestRewrite(t *testing.T) {
	t.Run("SrcReplaced", func(t *testing.T) {
		out := rewriteHit(t,
			`<p><img src="https://cdn.test/p.png" alt="pic"></p>`,
			map[string]string{"https://cdn.test/p.png": "assets/doc/p-12345678.png"})
		assert.Contains(t, out, `src="assets/doc/p-12345678.png"`)
		assert.Contains(t, out, `alt="pic"`)
	})

	t.Run("ProtocolRelativeReplaced", func(t *testing.T) {
		out := rewriteHit(t,
			`<img src="//cdn.test/p.png">`,
			map[string]string{"https://cdn.test/p.png": "assets/doc/p-12345678.png"})
		assert.Contains(t, out, `src="assets/doc/p-12345678.png"`)
		assert.NotContains(t, out, "//cdn.test")
	})

	t.Run("LazySourceSynthesizesSrc", func(t *testing.T) {
		out := rewriteHit(t,
			`<img data-src="https://cdn.test/x.jpg" loading="lazy">`,
			map[string]string{"https://cdn.test/x.jpg": "assets/doc/x-12345678.jpg"})
		assert.Contains(t, out, `src="assets/doc/x-12345678.jpg"`)
		assert.NotContains(t, out, "data-src")
		assert.NotContains(t, out, "loading")
	})

	t.Run("DataOriginalSynthesizesSrc", func(t *testing.T) {
		out := rewriteHit(t,
			`<img data-original="https://cdn.test/x.jpg">`,
			map[string]string{"https://cdn.test/x.jpg": "assets/doc/x-12345678.jpg"})
		assert.Contains(t, out, `src="assets/doc/x-12345678.jpg"`)
		assert.NotContains(t, out, "data-original")
	})

	t.Run("ExistingSrcNotOverwrittenByLazy", func(t *testing.T) {
		out := rewriteHit(t,
			`<img src="https://cdn.test/a.png" data-src="https://cdn.test/b.png">`,
			map[string]string{
				"https://cdn.test/a.png": "assets/doc/a-11111111.png",
				"https://cdn.test/b.png": "assets/doc/b-22222222.png",
			})
		assert.Contains(t, out, `src="assets/doc/a-11111111.png"`)
		assert.NotContains(t, out, "data-src")
	})

	t.Run("SrcsetFidelity", func(t *testing.T) {
		// Only a.jpg resolved; b.jpg keeps its original candidate text.
		out := rewriteHit(t,
			`<img srcset="https://cdn.test/a.jpg 1x, https://cdn.test/b.jpg 2x">`,
			map[string]string{"https://cdn.test/a.jpg": "assets/doc/a-12345678.jpg"})
		assert.Contains(t, out,
			`srcset="assets/doc/a-12345678.jpg 1x, https://cdn.test/b.jpg 2x"`)
	})

	t.Run("LazyAttrsKeptWhenNothingResolved", func(t *testing.T) {
		out := rewriteHit(t,
			`<img data-src="https://cdn.test/x.jpg" loading="lazy">`,
			map[string]string{})
		assert.Contains(t, out, `data-src="https://cdn.test/x.jpg"`)
		assert.Contains(t, out, `loading="lazy"`)
	})

	t.Run("AllLazyAttrsStripped", func(t *testing.T) {
		out := rewriteHit(t,
			`<img src="https://cdn.test/a.png" data-src="x" data-original="y"
				data-lazy="z" data-lazy-src="u" data-lazy-srcset="v"
				loading="lazy" data-srcset="w">`,
			map[string]string{"https://cdn.test/a.png": "assets/doc/a-11111111.png"})
		for _, attr := range lazyAttrs {
			assert.NotContains(t, out, attr+"=", attr)
		}
		assert.Contains(t, out, `src="assets/doc/a-11111111.png"`)
	})

	t.Run("MultipleImagesIndependent", func(t *testing.T) {
		out := rewriteHit(t,
			`<div><img src="https://cdn.test/a.png"><img src="https://cdn.test/b.png"></div>`,
			map[string]string{"https://cdn.test/a.png": "assets/doc/a-11111111.png"})
		assert.Contains(t, out, `src="assets/doc/a-11111111.png"`)
		assert.Contains(t, out, `src="https://cdn.test/b.png"`)
	})
}

// TestSerialize tests that fragments come back without document wrappers
func TestSerialize(t *testing.T) {
	frag, err := ParseFragment(HTMLHit{HTML: `<p>text <img src="a"> more</p>`})
	require.NoError(t, err)
	out, err := frag.Serialize()
	require.NoError(t, err)
	assert.NotContains(t, out, "<html")
	assert.NotContains(t, out, "<body")
	assert.Contains(t, out, "<p>text <img src=\"a\"/> more</p>")
}

// TestFragmentRefs tests reference enumeration across a whole fragment
func TestFragmentRefs(t *testing.T) {
	frag, err := ParseFragment(HTMLHit{HTML: `
		<div>
			<img src="https://cdn.test/a.png">
			<img data-src="https://cdn.test/b.png" srcset="https://cdn.test/c.png 2x">
		</div>`})
	require.NoError(t, err)

	refs := frag.Refs()
	urls := make([]string, 0, len(refs))
	for _, r := range refs {
		urls = append(urls, r.URL)
	}
	assert.ElementsMatch(t, []string{
		"https://cdn.test/a.png",
		"https://cdn.test/b.png",
		"https://cdn.test/c.png",
	}, urls)
}
