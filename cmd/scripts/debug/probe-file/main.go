package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/medleyhq/medley/pkg/mediafile"
	"github.com/medleyhq/medley/pkg/models"
	"github.com/robinjoseph08/golib/logger"
)

func main() {
	log := logger.New()

	var opts struct {
		Kind    string `short:"k" long:"kind" description:"The library kind to extract as" default:"audiobook"`
		FFprobe string `long:"ffprobe" description:"The ffprobe binary to use" default:"ffprobe"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/probe-file <path/to/file>")
		os.Exit(1)
	}

	valid := false
	for _, kind := range models.LibraryKinds {
		if opts.Kind == kind {
			valid = true
		}
	}
	if !valid {
		log.Fatal("unknown kind", logger.Data{"kind": opts.Kind})
	}

	ctx := log.WithContext(context.Background())
	extractor := mediafile.NewExtractor(mediafile.NewProber(opts.FFprobe))
	meta := extractor.Extract(ctx, args[0], opts.Kind)
	fmt.Println(meta)
}
