package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/tankobon/tankobon/pkg/scan"
)

func main() {
	log := logger.New()
	ctx := log.WithContext(context.Background())

	var opts struct {
		MaxPathLength int  `short:"l" long:"max-path-length" default:"260" description:"Longest path a scan accepts"`
		JSON          bool `short:"j" long:"json" description:"Print the result as JSON"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) == 0 {
		fmt.Println("go run ./cmd/scripts/debug/inspect-unit <path/to/unit> [more paths...]")
		os.Exit(1)
	}

	// Inspect never touches the catalog, so no database or thumbnail pool is needed.
	scanner := scan.New(nil, nil, scan.Options{MaxPathLength: opts.MaxPathLength})

	for _, path := range args {
		in, err := scanner.Inspect(ctx, path)
		if err != nil {
			log.Err(err).Fatal("inspect error")
		}

		if opts.JSON {
			out, err := json.MarshalIndent(in, "", "  ")
			if err != nil {
				log.Err(err).Fatal("json marshal error")
			}
			fmt.Println(string(out))
			continue
		}

		fmt.Printf("Path: %s\n", in.Path)
		if !in.Unit {
			fmt.Printf("Unit: no\n\n")
			continue
		}
		kind := "folder"
		if in.Archive {
			kind = "archive"
		}
		fmt.Printf("Unit: %s\nPages: %d\nCover: %s\nTitle: %s\n", kind, in.PageCount, in.Cover, in.Title)
		if in.Metadata != nil {
			fmt.Printf("Metadata Source: %s\nArtists: %v\nTags: %v\nSeries: %v\n", in.Source, in.Metadata.Artists, in.Metadata.Tags, in.Metadata.Series)
		}
		fmt.Println()
	}
}
