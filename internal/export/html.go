package export

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"strings"

	"pixel-blueprint/internal/node"
)

// writeHTML emits nested absolutely positioned boxes. CSS positions each
// box relative to its parent, so left/top are offsets from the parent rect;
// data-rect carries the absolute rect in source pixel space.
func writeHTML(w io.Writer, v *view) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(bw, "<meta name=\"viewport\" content=\"width=%d\">\n", v.size.Width)
	fmt.Fprintf(bw, "<style>html,body{margin:0;padding:0;overflow:hidden}"+
		"div{position:absolute;box-sizing:border-box;margin:0;padding:0}"+
		".text{font:14px/1.2 sans-serif;overflow:hidden;white-space:nowrap}</style>\n")
	fmt.Fprintf(bw, "</head>\n<body style=\"width:%dpx;height:%dpx\">\n", v.size.Width, v.size.Height)

	writeHTMLNode(bw, v, v.root, 0, 0, 0)

	fmt.Fprintf(bw, "</body>\n</html>\n")
	return bw.Flush()
}

func writeHTMLNode(w *bufio.Writer, v *view, n node.UINode, px, py float64, depth int) {
	indent := strings.Repeat("  ", depth)
	r := n.Rect

	style := fmt.Sprintf("left:%gpx;top:%gpx;width:%gpx;height:%gpx", r.X-px, r.Y-py, r.W, r.H)
	if fill := fillOf(n); fill != "" {
		style += ";background:" + fill
	}

	attrs := fmt.Sprintf(` id="%s" data-kind="%s" data-flow="%s" data-rect="%g,%g,%g,%g"`,
		html.EscapeString(n.ID), n.Kind, flowOf(n), r.X, r.Y, r.W, r.H)

	switch n.Kind {
	case node.KindRoot, node.KindContainer:
		fmt.Fprintf(w, "%s<div%s style=\"%s\">\n", indent, attrs, style)
	case node.KindLeaf:
		fmt.Fprintf(w, "%s<div%s style=\"%s\"></div>\n", indent, attrs, style)
		return
	case node.KindText:
		fmt.Fprintf(w, "%s<div class=\"text\"%s style=\"%s\">%s</div>\n",
			indent, attrs, style, html.EscapeString(textOf(n)))
		return
	default:
		// KindUnknown: keep the box and its subtree, flagged for review.
		fmt.Fprintf(w, "%s<!-- unknown node kind -->\n", indent)
		fmt.Fprintf(w, "%s<div%s style=\"%s;outline:1px dashed red\">\n", indent, attrs, style)
	}

	for _, c := range v.kids(n.ID) {
		writeHTMLNode(w, v, c, r.X, r.Y, depth+1)
	}
	fmt.Fprintf(w, "%s</div>\n", indent)
}
