package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"martmusic/internal/library"
	"martmusic/internal/models"
)

const usage = `Usage: martmusic [flags] <command> [arguments]

Commands:
  search <query>                    List songs matching query
  download [-all] [-j n] <query> [index]
                                    Download the index-th result (default 1), or all results.
                                    A trailing number is read as the index; quote queries ending in one
  list                              List downloaded songs
  forget [-rm] <id>                 Remove a download from the catalog, and its file with -rm
  init-config <path>                Write an example configuration file
  version                           Print version information

Flags:
`

var errUsage = errors.New("invalid usage")

// app runs catalog commands against a library service.
type app struct {
	svc         *library.Service
	out         io.Writer
	concurrency int
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "search":
		return a.search(ctx, args[1:])
	case "download":
		return a.download(ctx, args[1:])
	case "list":
		return a.list(ctx)
	case "forget":
		return a.forget(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func (a *app) search(ctx context.Context, args []string) error {
	query := strings.Join(args, " ")
	songs, err := a.svc.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		fmt.Fprintf(a.out, "No results for %q\n", query)
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tARTIST\tTITLE\tSOURCE\tOPUS")
	for i, song := range songs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", i+1, song.Artist, song.Title, song.Source, song.Downloadable)
	}
	return tw.Flush()
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	all := fs.Bool("all", false, "Download every result")
	concurrency := fs.Int("j", a.concurrency, "Concurrent downloads with -all")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: download needs a query", errUsage)
	}

	query, index, err := splitQueryAndIndex(fs.Args())
	if err != nil {
		return err
	}

	songs, err := a.svc.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		return fmt.Errorf("no results for %q", query)
	}

	if *all {
		return a.fetchAll(ctx, songs, *concurrency)
	}

	if index > len(songs) {
		return fmt.Errorf("index %d out of range, %d results", index, len(songs))
	}
	song := songs[index-1]
	record, skipped, err := a.svc.Fetch(ctx, &song)
	if err != nil {
		return err
	}
	printFetch(a.out, record, skipped)
	return nil
}

// splitQueryAndIndex joins args into a query like search does. A trailing
// integer is the 1-based result index when other words precede it.
func splitQueryAndIndex(args []string) (string, int, error) {
	index := 1
	if last := len(args) - 1; last > 0 {
		if n, err := strconv.Atoi(args[last]); err == nil {
			if n < 1 {
				return "", 0, fmt.Errorf("%w: index must be a positive number, got %d", errUsage, n)
			}
			index = n
			args = args[:last]
		}
	}
	return strings.Join(args, " "), index, nil
}

func (a *app) fetchAll(ctx context.Context, songs []models.Song, concurrency int) error {
	var failed int
	for _, r := range a.svc.FetchAll(ctx, songs, concurrency) {
		if r.Err != nil {
			failed++
			fmt.Fprintf(a.out, "failed  %s: %v\n", r.Song.String(), r.Err)
			continue
		}
		printFetch(a.out, r.Record, r.Skipped)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(songs))
	}
	return nil
}

func printFetch(w io.Writer, record *models.DownloadRecord, skipped bool) {
	status := "saved"
	if skipped {
		status = "exists"
	}
	fmt.Fprintf(w, "%-7s %s (%d bytes)\n", status, record.FilePath, record.Size)
}

func (a *app) list(ctx context.Context) error {
	records, err := a.svc.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "No downloads")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOWNLOADED\tARTIST\tTITLE\tFILE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.DownloadedAt.Local().Format("2006-01-02 15:04"), r.Artist, r.Title, r.FilePath)
	}
	return tw.Flush()
}

func (a *app) forget(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forget", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	removeFile := fs.Bool("rm", false, "Also delete the downloaded file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: forget needs exactly one id", errUsage)
	}

	record, err := a.svc.Forget(ctx, fs.Arg(0), *removeFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "forgot  %s\n", record.FilePath)
	return nil
}
