package export

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"strings"

	"pixel-blueprint/internal/node"
)

// writeSVG emits one group per node with absolute coordinates.
func writeSVG(w io.Writer, v *view) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		v.size.Width, v.size.Height, v.size.Width, v.size.Height)
	writeSVGNode(bw, v, v.root, 1)
	fmt.Fprintf(bw, "</svg>\n")
	return bw.Flush()
}

func writeSVGNode(w *bufio.Writer, v *view, n node.UINode, depth int) {
	indent := strings.Repeat("  ", depth)
	r := n.Rect
	fill := fillOf(n)
	if fill == "" {
		fill = "none"
	}

	fmt.Fprintf(w, `%s<g id="%s" data-kind="%s" data-flow="%s">`+"\n", indent, html.EscapeString(n.ID), n.Kind, flowOf(n))
	rect := fmt.Sprintf(`%s  <rect x="%g" y="%g" width="%g" height="%g" fill="%s"`, indent, r.X, r.Y, r.W, r.H, fill)

	switch n.Kind {
	case node.KindRoot, node.KindContainer, node.KindLeaf:
		fmt.Fprintf(w, "%s/>\n", rect)
	case node.KindText:
		fmt.Fprintf(w, "%s/>\n", rect)
		fmt.Fprintf(w, `%s  <text x="%g" y="%g" font-family="sans-serif" font-size="14" dominant-baseline="hanging">%s</text>`+"\n",
			indent, r.X, r.Y, html.EscapeString(textOf(n)))
	default:
		fmt.Fprintf(w, "%s stroke=\"red\" stroke-dasharray=\"2\"/>\n", rect)
	}

	for _, c := range v.kids(n.ID) {
		writeSVGNode(w, v, c, depth+1)
	}
	fmt.Fprintf(w, "%s</g>\n", indent)
}
