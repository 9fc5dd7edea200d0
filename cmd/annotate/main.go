package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/nvr-ai/go-multibox/inference"
)

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("annotate", "Fill dataset.json with the readings of a trained model")
	dir := parser.String("d", "dir", &argparse.Options{Help: "Dataset directory", Required: true})
	modelDir := parser.String("m", "model", &argparse.Options{Help: "Model directory holding model.json", Default: "model"})
	scoreThresh := parser.Float("t", "thresh", &argparse.Options{Help: "Score threshold, model value when 0", Default: 0.0})
	provider := parser.Selector("p", "provider", []string{"cpu", "cuda", "coreml", "openvino"}, &argparse.Options{Help: "Execution provider", Default: "cpu"})
	lib := parser.String("", "ortlib", &argparse.Options{Help: "Path to the onnxruntime shared library"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	backend, err := inference.ParseProviderBackend(*provider)
	check(err)
	solver, err := inference.LoadSolver(*modelDir, inference.SolverOptions{
		Session:        inference.SessionConfig{LibraryPath: *lib, Provider: backend},
		ScoreThreshold: *scoreThresh,
	}, logger)
	check(err)
	defer solver.Close()

	_, err = inference.NewAnnotator(solver, logger).Annotate(*dir)
	check(err)
}
