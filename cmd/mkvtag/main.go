// Command mkvtag reads and rewrites tag metadata in Matroska/WebM files.
// Grounded in spirit on
// _examples/luispater-matroska-go/example/extracter/main.go's
// demonstration-CLI shape, rebuilt as a proper flag-driven tool exercising
// the library end to end.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/ebmltag/mkvtag/config"
	"github.com/ebmltag/mkvtag/matroska"
	"github.com/ebmltag/mkvtag/notify"
)

func main() {
	var (
		configPath   = flag.StringP("config", "c", "", "optional YAML config file")
		title        = flag.String("title", "", "set the TITLE tag")
		saveAs       = flag.String("save-as", "", "write the result to a new path instead of rewriting in place")
		forceRewrite = flag.Bool("force-rewrite", false, "always perform a full rewrite instead of an in-place update")
		validate     = flag.Bool("validate", false, "validate cue/cluster consistency and exit without writing")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mkvtag [flags] <file.mkv>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	opts := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkvtag: loading config: %v\n", err)
			os.Exit(1)
		}
		opts = loaded
	}
	opts.ForceRewrite = *forceRewrite
	opts.SaveFilePath = *saveAs

	sink := notify.NewSink(nil)

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}

	c, err := matroska.NewContainer(f, opts, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}
	if _, err := c.ParseHeader(); err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}
	if _, err := c.ParseTags(); err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}
	if _, err := c.ParseCues(); err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}

	if *validate {
		if err := c.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "mkvtag: validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("ok")
		return
	}

	tags := []*matroska.Tag{{
		TargetTypeValue: 50,
		SimpleTags: []*matroska.SimpleTag{{
			Name:     "TITLE",
			Language: "und",
			Default:  true,
			String:   *title,
		}},
	}}

	if err := c.Rewrite(path, matroska.RewriteRequest{Tags: tags}); err != nil {
		fmt.Fprintf(os.Stderr, "mkvtag: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rewrote %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
}
