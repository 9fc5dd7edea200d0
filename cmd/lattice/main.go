package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/nvr-ai/go-multibox/models/model"
	"github.com/nvr-ai/go-multibox/models/multibox"
)

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("lattice", "Print the default boxes of a codec configuration")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Codec configuration (.json, .yaml), defaults when empty"})
	save := parser.String("s", "save", &argparse.Options{Help: "Write the effective configuration to this file"})
	list := parser.Flag("l", "list", &argparse.Options{Help: "List every default box"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := multibox.DefaultConfig()
	if *configFile != "" {
		cfg, err = model.LoadConfig(*configFile)
		check(err)
	}
	boxes, err := multibox.NewDefaultBoxes(cfg)
	check(err)

	for k, g := range cfg.Grids {
		logger.Infof("Grid %d: %dx%d, %d boxes per point, aspect ratios %v", k, g.Rows(), g.Cols(), cfg.BoxesPerPoint(k), cfg.TierAspectRatios(k))
	}
	fmt.Printf("%d default boxes for %dx%d images\n", boxes.Len(), cfg.ImageHeight, cfg.ImageWidth)
	if *list {
		for i := 0; i < boxes.Len(); i++ {
			fmt.Printf("%4d %v\n", i, boxes.Rect(i))
		}
	}
	if *save != "" {
		check(model.SaveConfig(*save, cfg))
	}
}
