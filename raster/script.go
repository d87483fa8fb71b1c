package raster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Browser-side functions shared by the rod and chromedp hosts.
const (
	jsGetWidth = `() => document.documentElement.style.width`

	jsSetWidth = `(w) => { document.documentElement.style.width = w; return true; }`

	jsResolveImage = `(id, uri) => new Promise((resolve, reject) => {
	const el = document.querySelector('img[data-anchor-id="' + CSS.escape(id) + '"]');
	if (!el) { reject(new Error('no image with anchor id ' + id)); return; }
	el.onload = () => resolve(true);
	el.onerror = () => resolve(false);
	el.removeAttribute('srcset');
	el.src = uri;
})`

	jsMeasure = `() => Array.from(document.querySelectorAll('img[data-anchor-id]')).map((el) => {
	const r = el.getBoundingClientRect();
	return {
		id: el.dataset.anchorId,
		src: el.dataset.sourceUrl || el.currentSrc || el.src,
		alt: el.alt || '',
		box: { x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height },
	};
})`
)

// jsCall renders fn applied to args as a single expression, for hosts that
// only evaluate expressions.
func jsCall(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("error encoding script argument: %w", err)
		}
		encoded[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")", nil
}
