package csrc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

const voidHref = "javascript:void(0);"

var fontFamilyDecl = regexp.MustCompile(`font-family(.*?);`)

// Link is an attachment found on a detail page.
type Link struct {
	URL   string
	Title string
}

// Cleaned is the result of cleaning one detail page.
type Cleaned struct {
	Links   []Link
	Content string
}

type pageCleaner struct {
	detailURL string
	urlHead   string
	siteBase  string
}

// CleanDetail extracts attachment links and the printable body from a decoded
// detail page. Only div.content blocks carrying an h2 heading contribute.
func CleanDetail(page, detailURL, siteBase string) (Cleaned, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return Cleaned{}, fmt.Errorf("parse detail page: %w", err)
	}
	c := pageCleaner{
		detailURL: detailURL,
		urlHead:   detailURL[:strings.LastIndex(detailURL, "/")+1],
		siteBase:  siteBase,
	}

	var (
		out   Cleaned
		body  strings.Builder
		known = map[Link]bool{}
	)
	for _, content := range htmlquery.Find(doc, `//div[@class="content"]`) {
		heading := htmlquery.FindOne(content, `.//h2`)
		if heading == nil {
			continue
		}
		removeNode(heading)

		for _, files := range htmlquery.Find(content, `.//div[@id="files"]`) {
			removeAttr(files, "style")
		}
		for _, l := range c.links(content) {
			if !known[l] {
				known[l] = true
				out.Links = append(out.Links, l)
			}
		}
		c.sanitize(content)
		body.WriteString(htmlquery.OutputHTML(content, true))
	}

	out.Content = unquote(fontFamilyDecl.ReplaceAllString(body.String(), ""))
	return out, nil
}

func (c pageCleaner) links(content *html.Node) []Link {
	var links []Link
	for _, a := range htmlquery.Find(content, `.//div[@id="files"]/a`) {
		if l, ok := c.link(a, false); ok {
			links = append(links, l)
		}
	}
	for _, a := range htmlquery.Find(content, `.//div[@class="detail-news"]//a`) {
		if l, ok := c.link(a, true); ok {
			links = append(links, l)
		}
	}
	return links
}

func (c pageCleaner) link(a *html.Node, filesOnly bool) (Link, bool) {
	href := htmlquery.SelectAttr(a, "href")
	title := strings.TrimSpace(htmlquery.InnerText(a))
	if href == "" || title == "" {
		return Link{}, false
	}
	if filesOnly && !strings.Contains(href, "/files/") {
		return Link{}, false
	}
	return Link{URL: c.resolve(href), Title: title}, true
}

// resolve makes a site-relative reference absolute. Videos live under the
// site root; everything else sits next to the detail page.
func (c pageCleaner) resolve(ref string) string {
	if strings.Contains(ref, "http") {
		return ref
	}
	ref = strings.TrimPrefix(ref, "/")
	if strings.HasSuffix(ref, ".mp4") || strings.HasSuffix(ref, ".MP4") {
		return c.siteBase + ref
	}
	return c.urlHead + ref
}

func (c pageCleaner) sanitize(content *html.Node) {
	for _, a := range htmlquery.Find(content, `.//a[@href]`) {
		setAttr(a, "href", voidHref)
	}
	for _, img := range htmlquery.Find(content, `.//img[@src]`) {
		src := htmlquery.SelectAttr(img, "src")
		if !strings.Contains(src, "http") {
			setAttr(img, "src", c.urlHead+strings.TrimPrefix(src, "/"))
		}
	}
	for _, font := range htmlquery.Find(content, `.//font[@face]`) {
		removeAttr(font, "face")
	}
	for _, n := range htmlquery.Find(content, `.//div[@class="xxgk-table"] | .//div[@class="xxgk-down-box"]`) {
		removeNode(n)
	}
}

func removeNode(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// unquote decodes %XX escapes and leaves malformed ones as they are.
func unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.ToValidUTF8(b.String(), "�")
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
