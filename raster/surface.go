package raster

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	anchorAttr = "data-anchor-id"
	sourceAttr = "data-source-url"
)

// Image is one <img> element of a surface.
type Image struct {
	ID          string
	SourceURL   string
	Alt         string
	CrossOrigin bool
}

// Surface is the rendered report markup prior to capture. Every image carries
// a data-anchor-id and a data-source-url attribute.
type Surface struct {
	HTML   string
	Origin string
	Images []Image
}

// CrossOriginImages returns the images that must go through acquisition
// before capture.
func (s Surface) CrossOriginImages() []Image {
	var out []Image
	for _, img := range s.Images {
		if img.CrossOrigin {
			out = append(out, img)
		}
	}
	return out
}

// SurfaceFromHTML discovers the images of arbitrary report markup. Images
// without an anchor id get one, and their src is recorded as the source URL,
// so the returned HTML may differ from the input.
func SurfaceFromHTML(markup, origin string) (Surface, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return Surface{}, fmt.Errorf("error parsing surface html: %w", err)
	}

	surface := Surface{Origin: origin}
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			img := Image{
				ID:        attr(n, anchorAttr),
				SourceURL: attr(n, sourceAttr),
				Alt:       attr(n, "alt"),
			}
			if img.SourceURL == "" {
				img.SourceURL = attr(n, "src")
				setAttr(n, sourceAttr, img.SourceURL)
			}
			if img.ID == "" || seen[img.ID] {
				for i := len(surface.Images) + 1; ; i++ {
					img.ID = "img-" + strconv.Itoa(i)
					if !seen[img.ID] {
						break
					}
				}
				setAttr(n, anchorAttr, img.ID)
			}
			seen[img.ID] = true
			img.CrossOrigin = isCrossOrigin(img.SourceURL, origin)
			surface.Images = append(surface.Images, img)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return Surface{}, fmt.Errorf("error rendering surface html: %w", err)
	}
	surface.HTML = buf.String()
	return surface, nil
}

// isCrossOrigin reports whether rawURL is an http(s) URL on a different
// origin. An empty origin treats every remote URL as cross-origin.
func isCrossOrigin(rawURL, origin string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if origin == "" {
		return true
	}
	o, err := url.Parse(origin)
	if err != nil {
		return true
	}
	return !strings.EqualFold(u.Scheme, o.Scheme) || !strings.EqualFold(u.Host, o.Host)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
