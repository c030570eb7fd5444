// Command boxtest runs box extraction on a screenshot and prints the boxes.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"strings"

	"pixel-blueprint/internal/extract"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/render"
)

func main() {
	imagePath := flag.String("image", "", "Path to screenshot (PNG, JPEG, GIF, BMP, TIFF or WebP)")
	step := flag.Int("step", 8, "Grid step in pixels")
	fixed := flag.Float64("threshold", 0, "Fixed edge threshold (0 = adaptive)")
	overlayPath := flag.String("overlay", "", "Write an overlay PNG with the detected boxes")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: boxtest -image <path> [-step 8] [-threshold 0] [-overlay out.png]")
		os.Exit(1)
	}

	src, err := imgsrc.Load(*imagePath, imgsrc.DefaultLimits())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %s image: %dx%d pixels\n", src.Format, src.Width(), src.Height())

	params := extract.DefaultParams().WithStep(*step)
	if *fixed > 0 {
		params = params.WithThreshold(extract.Fixed(*fixed))
	}
	fmt.Printf("\nExtraction parameters:\n")
	fmt.Printf("  Step: %d px\n", params.Step)
	fmt.Printf("  Min cells: %d\n", params.MinCells)
	fmt.Printf("  Canvas coverage: %.2f\n", params.CanvasCoverage)
	fmt.Printf("  Threshold: %T\n", params.Threshold)

	fmt.Printf("\nExtracting boxes...\n")
	res, err := extract.New(params, nil).ExtractImage(context.Background(), src.Image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extraction failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Grid %dx%d, threshold %.1f, %d edge cells, %d components\n",
		res.Cols, res.Rows, res.Threshold, res.EdgeCells, res.Components)

	fmt.Printf("\nDetected %d boxes:\n", len(res.Nodes))
	fmt.Printf("%-12s %8s %8s %8s %8s\n", "ID", "X", "Y", "W", "H")
	fmt.Println(strings.Repeat("-", 48))
	for _, n := range res.Nodes {
		fmt.Printf("%-12s %8.0f %8.0f %8.0f %8.0f\n", n.ID, n.Rect.X, n.Rect.Y, n.Rect.W, n.Rect.H)
	}
	fmt.Printf("\nTrace: %d marks, hash %s\n", res.Trace.Count, res.Trace.Hash())

	if *overlayPath != "" {
		opts := render.DefaultOverlayOptions()
		opts.ShowTrace = true
		img := render.Overlay(src.Image, res.Nodes, &res.Trace, opts)
		f, err := os.Create(*overlayPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create overlay: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := png.Encode(f, img); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write overlay: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *overlayPath)
	}
}
