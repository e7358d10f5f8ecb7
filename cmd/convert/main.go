package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/drummonds/flipbook/config"
	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/engine/ingest"
	"github.com/drummonds/flipbook/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// manifestPage describes one written page image
type manifestPage struct {
	Index   int    `json:"index"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	File    string `json:"file"`
	DataURL string `json:"dataUrl,omitempty"`
}

// manifest is written next to the page images as manifest.json
type manifest struct {
	Title       string              `json:"title"`
	Source      string              `json:"source"`
	SourceHash  string              `json:"sourceHash"`
	PageCount   int                 `json:"pageCount"`
	AspectRatio float64             `json:"aspectRatio"`
	Cover       string              `json:"cover"`
	Thumbnail   string              `json:"thumbnail"`
	TOC         []database.TOCEntry `json:"toc"`
	Pages       []manifestPage      `json:"pages"`
}

func main() {
	input := flag.String("in", "", "PDF file to convert")
	output := flag.String("out", "", "Output directory (defaults to the PDF name without extension)")
	inline := flag.Bool("inline", false, "Embed page images in manifest.json as data URLs")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: convert -in document.pdf [-out dir] [-inline]")
		os.Exit(2)
	}
	outDir := *output
	if outDir == "" {
		outDir = defaultOutDir(*input)
	}

	renderConfig, logger := config.SetupConverter()
	Logger = logger
	ingest.Logger = logger

	if err := run(*input, outDir, *inline, renderConfig); err != nil {
		Logger.Error("Conversion failed", "input", *input, "error", err)
		os.Exit(1)
	}
}

func run(input, outDir string, inline bool, renderConfig config.RenderConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	file, err := os.Open(input)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := readHeader(file)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", input, err)
	}
	if err := ingest.ValidateUpload(filepath.Base(input), header, info.Size(), renderConfig.MaxUploadBytes); err != nil {
		return err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	// a single document is converted, so one renderer instance is enough
	renderer, err := pdfrenderer.New(renderConfig.Renderer, 1)
	if err != nil {
		return err
	}
	defer renderer.Close()

	pipeline := ingest.NewPipeline(renderer, renderConfig)
	result, err := pipeline.Ingest(ctx, file, filepath.Base(input), func(progress float64) {
		fmt.Printf("\r%s: %3.0f%%", filepath.Base(input), progress)
	})
	fmt.Println()
	if err != nil {
		return err
	}

	m, err := writeFlipbook(result, outDir, inline)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d pages of %q to %s\n", m.PageCount, m.Title, outDir)
	return nil
}

// defaultOutDir names the output directory after the input without its
// extension, never the input path itself
func defaultOutDir(input string) string {
	outDir := strings.TrimSuffix(input, filepath.Ext(input))
	if outDir == input || outDir == "" || strings.HasSuffix(outDir, string(filepath.Separator)) {
		outDir += "-flipbook"
	}
	return outDir
}

// readHeader reads the bytes used for type sniffing; short files are fine
func readHeader(r io.Reader) ([]byte, error) {
	header := make([]byte, 512)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return header[:n], nil
}

// writeFlipbook writes page images, the thumbnail and manifest.json into outDir
func writeFlipbook(result *ingest.Result, outDir string, inline bool) (*manifest, error) {
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}

	m := &manifest{
		Title:       result.Title,
		Source:      result.SourceName,
		SourceHash:  result.SourceHash,
		PageCount:   result.PageCount,
		AspectRatio: result.AspectRatio,
		TOC:         result.TOC,
		Pages:       make([]manifestPage, 0, len(result.Pages)),
	}
	for _, page := range result.Pages {
		name := fmt.Sprintf("page-%03d.jpg", page.Index+1)
		if err := os.WriteFile(filepath.Join(outDir, name), page.Data, 0644); err != nil {
			return nil, err
		}
		entry := manifestPage{Index: page.Index, Width: page.Width, Height: page.Height, File: name}
		if inline {
			entry.DataURL = page.DataURL()
		}
		m.Pages = append(m.Pages, entry)
	}
	m.Cover = m.Pages[result.Cover.Index].File

	if len(result.Thumbnail) > 0 {
		m.Thumbnail = "thumbnail.jpg"
		if err := os.WriteFile(filepath.Join(outDir, m.Thumbnail), result.Thumbnail, 0644); err != nil {
			return nil, err
		}
	}

	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), manifestJSON, 0644); err != nil {
		return nil, err
	}
	Logger.Info("Flipbook written", "dir", outDir, "pages", m.PageCount)
	return m, nil
}
