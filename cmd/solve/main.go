package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/nvr-ai/go-multibox/dataset"
	"github.com/nvr-ai/go-multibox/images"
	"github.com/nvr-ai/go-multibox/inference"
	"github.com/nvr-ai/go-multibox/render"
)

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type record struct {
	File  string    `json:"file"`
	Text  string    `json:"text"`
	BBs   [][4]int  `json:"bbs"`
	Score []float32 `json:"score"`
}

func main() {
	parser := argparse.NewParser("solve", "Read captcha images with a trained model")
	modelDir := parser.String("m", "model", &argparse.Options{Help: "Model directory holding model.json", Default: "model"})
	dir := parser.String("d", "dir", &argparse.Options{Help: "Solve every image of this directory"})
	files := parser.StringList("f", "file", &argparse.Options{Help: "Image file to solve, repeatable"})
	jsonFile := parser.String("j", "json", &argparse.Options{Help: "Write the results to this JSON file"})
	overlayDir := parser.String("o", "overlay", &argparse.Options{Help: "Write box overlays into this directory"})
	scoreThresh := parser.Float("t", "thresh", &argparse.Options{Help: "Score threshold, model value when 0", Default: 0.0})
	nmsThresh := parser.Float("", "nms", &argparse.Options{Help: "NMS threshold, model value when 0", Default: 0.0})
	maxChars := parser.Int("", "maxchars", &argparse.Options{Help: "Glyphs kept per image", Default: inference.DefaultMaxChars})
	provider := parser.Selector("p", "provider", []string{"cpu", "cuda", "coreml", "openvino"}, &argparse.Options{Help: "Execution provider", Default: "cpu"})
	lib := parser.String("", "ortlib", &argparse.Options{Help: "Path to the onnxruntime shared library"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	if (*dir == "") == (len(*files) == 0) {
		fmt.Print(parser.Usage("exactly one of --dir and --file is required"))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	backend, err := inference.ParseProviderBackend(*provider)
	check(err)
	solver, err := inference.LoadSolver(*modelDir, inference.SolverOptions{
		Session: inference.SessionConfig{
			LibraryPath: *lib,
			Provider:    backend,
		},
		NMSThreshold:   *nmsThresh,
		ScoreThreshold: *scoreThresh,
		MaxChars:       *maxChars,
	}, logger)
	check(err)
	defer solver.Close()

	paths := *files
	if *dir != "" {
		list, err := dataset.ListImageFiles(*dir)
		check(err)
		for _, f := range list {
			paths = append(paths, f.Path)
		}
	}

	results := map[string]record{}
	for _, path := range paths {
		sol, err := solver.SolveFile(path)
		if err != nil {
			logger.Errorf("%v", err)
			continue
		}
		fmt.Printf("%s %s\n", path, sol.Text)
		results[path] = record{File: path, Text: sol.Text, BBs: sol.Boxes, Score: sol.Scores}

		if *overlayDir != "" {
			check(writeOverlay(*overlayDir, path, sol))
		}
	}

	if *jsonFile != "" {
		b, err := json.MarshalIndent(results, "", "  ")
		check(err)
		check(os.WriteFile(*jsonFile, b, 0o644))
	}
}

func writeOverlay(outDir, path string, sol *inference.Solution) error {
	src, err := images.LoadImageFile(path)
	if err != nil {
		return err
	}
	img, err := src.Decode()
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
	caption := fmt.Sprintf("%s: %s", filepath.Base(path), sol.Text)
	return render.WriteOverlay(filepath.Join(outDir, name), img, sol.Boxes, caption, render.DefaultScale)
}
