package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/net/html"

	"report-export/acquire"
)

// Native layout metrics, in pixels.
const (
	nativeMargin       = 40
	nativeGap          = 10
	nativeGlyphWidth   = 7
	nativeGlyphHeight  = 13
	nativeLineSpacing  = 5
	nativeDefaultWidth = 1024
)

var (
	nativeText    = color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}
	nativeMuted   = color.NRGBA{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
	nativePending = color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

// NativeHost lays surfaces out in pure Go without a browser. It understands
// the block-level subset of HTML used by reports (headings, paragraphs, list
// items, captions and images) and ignores styles. Images that are not
// inline data URIs stay blank until resolved.
type NativeHost struct {
	// InitialWidth is the layout width before the rasterizer forces one.
	InitialWidth int
}

func (h *NativeHost) Load(ctx context.Context, surface Surface) (View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(surface.HTML))
	if err != nil {
		return nil, fmt.Errorf("error parsing surface html: %w", err)
	}

	width := h.InitialWidth
	if width <= 0 {
		width = nativeDefaultWidth
	}
	v := &nativeView{width: width, images: make(map[string]image.Image)}
	collectBlocks(doc, &v.blocks)

	for _, b := range v.blocks {
		if b.kind != blockImage || !strings.HasPrefix(b.src, "data:") {
			continue
		}
		img, err := decodeDataURI(b.src)
		if err != nil {
			log.WithField("id", b.id).WithError(err).Debug("Ignoring undecodable inline image")
			continue
		}
		v.images[b.id] = img
	}
	return v, nil
}

type blockKind int

const (
	blockText blockKind = iota
	blockImage
)

type block struct {
	kind  blockKind
	text  string
	scale int
	bold  bool
	color color.Color

	id, src, source, alt string
	attrWidth, attrHeight int
	hasSize               bool
}

type nativeView struct {
	mu     sync.Mutex
	width  int
	blocks []block
	images map[string]image.Image
}

func (v *nativeView) SetWidth(ctx context.Context, width int) (func() error, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid width %d", width)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.width
	v.width = width
	return func() error {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.width = prev
		return nil
	}, nil
}

func (v *nativeView) ResolveImage(ctx context.Context, id string, result acquire.Result) error {
	img, err := imaging.Decode(bytes.NewReader(result.Data))
	if err != nil {
		return fmt.Errorf("error decoding image %s: %w", id, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, b := range v.blocks {
		if b.kind == blockImage && b.id == id {
			v.images[id] = img
			return nil
		}
	}
	return fmt.Errorf("no image with anchor id %q", id)
}

func (v *nativeView) Snapshot(ctx context.Context) (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	placed, height := v.layout()
	canvas := imaging.New(v.width, height, color.White)
	for _, p := range placed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch p.block.kind {
		case blockText:
			lineHeight := (nativeGlyphHeight + nativeLineSpacing) * p.block.scale
			for i, line := range p.lines {
				drawText(canvas, line, p.rect.Min.X, p.rect.Min.Y+i*lineHeight, p.block)
			}
		case blockImage:
			img, ok := v.images[p.block.id]
			if !ok {
				draw.Draw(canvas, p.rect, image.NewUniform(nativePending), image.Point{}, draw.Src)
				continue
			}
			fitted := imaging.Resize(img, p.rect.Dx(), p.rect.Dy(), imaging.Lanczos)
			draw.Draw(canvas, p.rect, fitted, image.Point{}, draw.Over)
		}
	}
	return canvas, nil
}

func (v *nativeView) Measure(ctx context.Context) ([]Element, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	placed, _ := v.layout()
	var elements []Element
	for _, p := range placed {
		if p.block.kind != blockImage {
			continue
		}
		elements = append(elements, Element{
			ID:        p.block.id,
			SourceURL: p.block.source,
			Caption:   p.block.alt,
			Box: Box{
				X:      float64(p.rect.Min.X),
				Y:      float64(p.rect.Min.Y),
				Width:  float64(p.rect.Dx()),
				Height: float64(p.rect.Dy()),
			},
		})
	}
	return elements, nil
}

func (v *nativeView) Close() error {
	return nil
}

type placedBlock struct {
	block *block
	lines []string
	rect  image.Rectangle
}

// layout stacks blocks vertically at the current width and returns the total
// surface height.
func (v *nativeView) layout() ([]placedBlock, int) {
	content := v.width - 2*nativeMargin
	if content < nativeGlyphWidth*8 {
		content = nativeGlyphWidth * 8
	}

	y := nativeMargin
	placed := make([]placedBlock, 0, len(v.blocks))
	for i := range v.blocks {
		b := &v.blocks[i]
		p := placedBlock{block: b}
		switch b.kind {
		case blockText:
			perLine := max(1, content/(nativeGlyphWidth*b.scale))
			p.lines = wrap(b.text, perLine)
			h := len(p.lines) * (nativeGlyphHeight + nativeLineSpacing) * b.scale
			p.rect = image.Rect(nativeMargin, y, nativeMargin+content, y+h)
		case blockImage:
			w, h := v.imageSize(b)
			if w > content && w > 0 {
				h = h * content / w
				w = content
			}
			p.rect = image.Rect(nativeMargin, y, nativeMargin+w, y+h)
		}
		placed = append(placed, p)
		y = p.rect.Max.Y + nativeGap
	}
	return placed, y - nativeGap + nativeMargin
}

func (v *nativeView) imageSize(b *block) (int, int) {
	if b.hasSize {
		return b.attrWidth, b.attrHeight
	}
	if img, ok := v.images[b.id]; ok {
		return img.Bounds().Dx(), img.Bounds().Dy()
	}
	return acquire.DefaultPlaceholderWidth, acquire.DefaultPlaceholderHeight
}

func drawText(dst draw.Image, text string, x, y int, b *block) {
	face := basicfont.Face7x13
	src := image.NewUniform(b.color)
	if b.scale <= 1 {
		d := &font.Drawer{Dst: dst, Src: src, Face: face, Dot: fixed.P(x, y+face.Ascent)}
		d.DrawString(text)
		if b.bold {
			d.Dot = fixed.P(x+1, y+face.Ascent)
			d.DrawString(text)
		}
		return
	}

	w := len([]rune(text)) * nativeGlyphWidth
	tmp := image.NewNRGBA(image.Rect(0, 0, w+1, nativeGlyphHeight))
	d := &font.Drawer{Dst: tmp, Src: src, Face: face, Dot: fixed.P(0, face.Ascent)}
	d.DrawString(text)
	if b.bold {
		d.Dot = fixed.P(1, face.Ascent)
		d.DrawString(text)
	}
	up := imaging.Resize(tmp, (w+1)*b.scale, nativeGlyphHeight*b.scale, imaging.NearestNeighbor)
	draw.Draw(dst, up.Bounds().Add(image.Pt(x, y)), up, image.Point{}, draw.Over)
}

// wrap breaks text into lines of at most perLine runes, splitting on spaces
// where possible.
func wrap(text string, perLine int) []string {
	var lines []string
	var line []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > perLine {
			if len(line) > 0 {
				lines = append(lines, string(line))
				line = nil
			}
			lines = append(lines, string(w[:perLine]))
			w = w[perLine:]
		}
		switch {
		case len(line) == 0:
			line = w
		case len(line)+1+len(w) <= perLine:
			line = append(append(line, ' '), w...)
		default:
			lines = append(lines, string(line))
			line = w
		}
	}
	if len(line) > 0 {
		lines = append(lines, string(line))
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

func collectBlocks(n *html.Node, out *[]block) {
	switch n.Type {
	case html.TextNode:
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			*out = append(*out, block{kind: blockText, text: t, scale: 1, color: nativeText})
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "head", "script", "style", "template", "noscript":
			return
		case "img":
			*out = append(*out, imageBlock(n))
			return
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "figcaption", "td", "th", "pre", "blockquote", "dt", "dd":
			if t := textContent(n); t != "" {
				b := block{kind: blockText, text: t, scale: 1, color: nativeText}
				switch n.Data {
				case "h1":
					b.scale, b.bold = 2, true
				case "h2", "h3", "h4", "h5", "h6", "th":
					b.bold = true
				case "li":
					b.text = "- " + t
				case "figcaption":
					b.color = nativeMuted
				}
				*out = append(*out, b)
			}
			for _, img := range descendants(n, "img") {
				*out = append(*out, imageBlock(img))
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectBlocks(c, out)
	}
}

func imageBlock(n *html.Node) block {
	b := block{
		kind:   blockImage,
		id:     attr(n, anchorAttr),
		src:    attr(n, "src"),
		source: attr(n, sourceAttr),
		alt:    attr(n, "alt"),
	}
	if b.source == "" {
		b.source = b.src
	}
	w, errW := strconv.Atoi(strings.TrimSuffix(attr(n, "width"), "px"))
	h, errH := strconv.Atoi(strings.TrimSuffix(attr(n, "height"), "px"))
	if errW == nil && errH == nil && w >= 0 && h >= 0 {
		b.attrWidth, b.attrHeight, b.hasSize = w, h, true
	}
	return b
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func descendants(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
			continue
		}
		out = append(out, descendants(c, tag)...)
	}
	return out
}

func decodeDataURI(uri string) (image.Image, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}
	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 payload: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("error unescaping payload: %w", err)
		}
		data = []byte(unescaped)
	}
	return imaging.Decode(bytes.NewReader(data))
}
