package lib

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Fragment is one scanned HTML string, parsed once and addressable for
// rewriting at its original location in the document.
type Fragment struct {
	Path Path
	doc  *goquery.Document
}

// ParseFragment parses an HTML hit into a rewritable fragment.
func ParseFragment(hit HTMLHit) (*Fragment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(hit.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html fragment: %w", err)
	}
	return &Fragment{Path: hit.Path, doc: doc}, nil
}

// Refs enumerates every image reference across the fragment's <img> elements.
func (f *Fragment) Refs() []ImageReference {
	var refs []ImageReference
	f.doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		refs = append(refs, ImageRefs(img)...)
	})
	return refs
}

// Rewrite replaces every resolved image reference in the fragment with its
// local relative path and strips lazy-load hints from elements that now carry
// a real source. urlMap is keyed by canonical URL.
func (f *Fragment) Rewrite(urlMap map[string]string) {
	f.doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		rewriteImg(img, urlMap)
	})
}

// Serialize renders the fragment back to an HTML string. Parsing wrapped the
// fragment in a full document, so the body's inner HTML is the fragment.
func (f *Fragment) Serialize() (string, error) {
	html, err := f.doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("serialize html fragment: %w", err)
	}
	return html, nil
}

func rewriteImg(img *goquery.Selection, urlMap map[string]string) {
	// Substitutions for this element, keyed by both the raw attribute text
	// and its canonical form so protocol-relative variants resolve too.
	local := make(map[string]string)
	for _, ref := range ImageRefs(img) {
		canonical, ok := CanonicalURL(ref.URL)
		if !ok {
			continue
		}
		if mapped, found := urlMap[canonical]; found {
			local[ref.URL] = mapped
			local[canonical] = mapped
		}
	}
	if len(local) == 0 {
		return
	}

	for _, attr := range srcAttrs {
		val, ok := img.Attr(attr)
		if !ok || val == "" {
			continue
		}
		mapped, found := local[val]
		if !found {
			continue
		}
		img.SetAttr(attr, mapped)
		// An element that only had a lazy source gets a real src before the
		// lazy attributes are stripped.
		if attr != AttrSrc {
			if _, hasSrc := img.Attr(AttrSrc); !hasSrc {
				img.SetAttr(AttrSrc, mapped)
			}
		}
	}

	if srcset, ok := img.Attr(AttrSrcset); ok && srcset != "" {
		img.SetAttr(AttrSrcset, rewriteSrcset(srcset, local))
	}

	for _, attr := range lazyAttrs {
		img.RemoveAttr(attr)
	}
}

// rewriteSrcset rebuilds a srcset list, substituting resolved candidate URLs
// while keeping each candidate's descriptor. Unresolved candidates keep their
// original text.
func rewriteSrcset(srcset string, local map[string]string) string {
	cands := parseSrcset(srcset)
	entries := make([]string, 0, len(cands))
	for _, cand := range cands {
		mapped, found := local[cand.URL]
		if !found {
			entries = append(entries, cand.Raw)
			continue
		}
		entry := mapped
		if cand.Descriptor != "" {
			entry += " " + cand.Descriptor
		}
		entries = append(entries, entry)
	}
	return strings.Join(entries, ", ")
}
