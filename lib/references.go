package lib

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Attribute names inspected on <img> elements.
const (
	AttrSrc          = "src"
	AttrDataSrc      = "data-src"
	AttrDataOriginal = "data-original"
	AttrSrcset       = "srcset"
)

// srcAttrs are the single-URL attributes an <img> may carry.
var srcAttrs = []string{AttrSrc, AttrDataSrc, AttrDataOriginal}

// lazyAttrs are hints used by client-side deferred-loading scripts. They are
// removed once an element points at a real local image.
var lazyAttrs = []string{
	"data-src",
	"data-original",
	"data-lazy",
	"data-lazy-src",
	"data-lazy-srcset",
	"loading",
	"data-srcset",
}

// ImageReference is one URL mentioned by an <img> element, tagged with the
// attribute it came from. Srcset candidates produce one reference each.
type ImageReference struct {
	Attr string
	URL  string
}

// ImageRefs enumerates every image URL referenced by one <img> selection,
// across the plain source attributes and the srcset descriptor list.
func ImageRefs(img *goquery.Selection) []ImageReference {
	var refs []ImageReference
	for _, attr := range srcAttrs {
		if val, ok := img.Attr(attr); ok && val != "" {
			refs = append(refs, ImageReference{Attr: attr, URL: val})
		}
	}
	if srcset, ok := img.Attr(AttrSrcset); ok {
		for _, cand := range parseSrcset(srcset) {
			refs = append(refs, ImageReference{Attr: AttrSrcset, URL: cand.URL})
		}
	}
	return refs
}

// srcsetCandidate is one comma-separated srcset entry: a URL, an optional
// density/width descriptor, and the trimmed original text.
type srcsetCandidate struct {
	URL        string
	Descriptor string
	Raw        string
}

// parseSrcset splits a srcset attribute into candidates. The first
// whitespace-delimited token of each entry is the URL; anything after it is
// the descriptor, preserved verbatim for rewriting.
func parseSrcset(srcset string) []srcsetCandidate {
	var out []srcsetCandidate
	for _, part := range strings.Split(srcset, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		cand := srcsetCandidate{URL: fields[0], Raw: part}
		if len(fields) > 1 {
			cand.Descriptor = strings.Join(fields[1:], " ")
		}
		out = append(out, cand)
	}
	return out
}
