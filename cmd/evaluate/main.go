package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/nvr-ai/go-multibox/dataset"
	"github.com/nvr-ai/go-multibox/evaluation"
	"github.com/nvr-ai/go-multibox/inference"
)

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("evaluate", "Measure the sequence accuracy of a model on a dataset")
	dir := parser.String("d", "dir", &argparse.Options{Help: "Dataset directory holding dataset.json", Required: true})
	modelDir := parser.String("m", "model", &argparse.Options{Help: "Model directory holding model.json", Default: "model"})
	all := parser.Flag("a", "all", &argparse.Options{Help: "Evaluate every sample instead of the validation share"})
	fraction := parser.Float("", "train-fraction", &argparse.Options{Help: "Training share of the split", Default: dataset.DefaultTrainFraction})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "List misread samples"})
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
		Session: inference.SessionConfig{LibraryPath: *lib, Provider: backend},
	}, logger)
	check(err)
	defer solver.Close()

	ds, err := dataset.Load(*dir, dataset.DefaultMaxChars)
	check(err)
	samples := ds.Samples
	if !*all {
		_, samples = ds.Split(*fraction)
	}

	cfg := solver.Config()
	report, err := evaluation.Evaluate(samples, evaluation.FromDetector(solver, cfg.ImageHeight, cfg.ImageWidth))
	check(err)

	if *verbose {
		for _, m := range report.Mistakes {
			logger.Infof("%v", m)
		}
	}
	fmt.Printf("accuracy %.4f (%d/%d)\n", report.Accuracy(), report.Correct, report.Total)
}
