// Command packstore inspects and maintains a pack storage root.
//
// Usage:
//
//	packstore -root DIR [flags] inspect SCOPE...
//	packstore -root DIR [flags] dump SCOPE
//	packstore -root DIR [flags] prune
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/packstore"
)

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(0)
	log.SetPrefix("packstore: ")
	err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

type options struct {
	root       string
	tempRoot   string
	bucketSize int
	packSize   int
	expire     time.Duration
	compress   bool
	verbose    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("packstore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.root, "root", "", "storage root directory (required)")
	fs.StringVar(&opts.tempRoot, "temp-root", "", "staging directory (default: <root>-temp)")
	fs.IntVar(&opts.bucketSize, "bucket-size", packstore.DefaultBucketSize, "buckets per scope the root was written with")
	fs.IntVar(&opts.packSize, "pack-size", packstore.DefaultPackSize, "pack size the root was written with")
	fs.DurationVar(&opts.expire, "expire", packstore.DefaultExpire, "scope expiry (0 disables)")
	fs.BoolVar(&opts.compress, "compress", false, "files are zstd-compressed")
	fs.BoolVar(&opts.verbose, "v", false, "log storage events to stderr")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: packstore -root DIR [flags] inspect SCOPE... | dump SCOPE | prune")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if opts.root == "" || fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	s, err := open(opts, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "inspect":
		if len(rest) == 0 {
			fs.Usage()
			return errUsage
		}
		for _, scope := range rest {
			if err := inspect(s, scope, stdout); err != nil {
				return err
			}
		}
		return nil
	case "dump":
		if len(rest) != 1 {
			fs.Usage()
			return errUsage
		}
		return dump(ctx, s, rest[0], stdout)
	case "prune":
		if len(rest) != 0 {
			fs.Usage()
			return errUsage
		}
		return prune(ctx, s, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

func open(opts options, stderr io.Writer) (*packstore.PackStorage, error) {
	storeOpts := []packstore.Option{
		packstore.WithBucketSize(opts.bucketSize),
		packstore.WithPackSize(opts.packSize),
		packstore.WithExpire(opts.expire),
	}
	if opts.tempRoot != "" {
		storeOpts = append(storeOpts, packstore.WithTempRoot(opts.tempRoot))
	}
	if opts.compress {
		storeOpts = append(storeOpts, packstore.WithCompression(zstd.SpeedDefault))
	}
	if opts.verbose {
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		storeOpts = append(storeOpts, packstore.WithLogger(logger))
	}
	return packstore.New(opts.root, storeOpts...)
}

func inspect(s *packstore.PackStorage, scope string, w io.Writer) error {
	meta, err := s.Inspect(scope)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", scope, err)
	}
	total := 0
	for _, bucket := range meta.Packs {
		for _, fm := range bucket {
			total += fm.Size
		}
	}
	written := "never"
	if !meta.Timestamp.IsZero() {
		written = meta.Timestamp.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "scope %s: buckets=%d pack-size=%d written=%s packs=%d bytes=%d\n",
		scope, meta.BucketSize, meta.PackSize, written, meta.PackCount(), total)
	for b, bucket := range meta.Packs {
		for _, fm := range bucket {
			fmt.Fprintf(w, "  %3d %s %s %d\n", b, fm.Name, fm.Hash, fm.Size)
		}
	}
	return nil
}

func dump(ctx context.Context, s *packstore.PackStorage, scope string, w io.Writer) error {
	// Dump, not GetAll: a corrupt scope is reported and left on disk.
	items, err := s.Dump(ctx, scope)
	if err != nil {
		return fmt.Errorf("dump %s: %w", scope, err)
	}
	slices.SortFunc(items, func(a, b packstore.Item) int {
		return slices.Compare(a.Key, b.Key)
	})
	for _, it := range items {
		fmt.Fprintf(w, "%q\t%d\n", it.Key, len(it.Value))
	}
	return nil
}

func prune(ctx context.Context, s *packstore.PackStorage, w io.Writer) error {
	// A failed scope does not stop the rest, so report what was removed.
	res, err := s.Prune(ctx)
	for _, scope := range res.RemovedScopes {
		fmt.Fprintf(w, "removed scope %s\n", scope)
	}
	for _, path := range res.RemovedFiles {
		fmt.Fprintf(w, "removed file %s\n", path)
	}
	fmt.Fprintf(w, "%d scopes, %d files removed\n", len(res.RemovedScopes), len(res.RemovedFiles))
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}
