package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/MrWong99/ctcdecode/pkg/lm/ngram"
	"github.com/MrWong99/ctcdecode/pkg/lm/ngram/pgstore"
)

const lmUsage = `usage: ctcdecode lm <command> [flags]

commands:
  import -dsn DSN -name NAME FILE.arpa   store an ARPA model, replacing NAME
  list   -dsn DSN                        list stored models
  delete -dsn DSN -name NAME             remove a stored model
`

// runLM implements the "lm" subcommands that manage the n-gram store.
func runLM(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, lmUsage)
		return 2
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet("ctcdecode lm "+cmd, flag.ContinueOnError)
	dsn := fs.String("dsn", os.Getenv("CTCDECODE_DSN"), "PostgreSQL connection string (default $CTCDECODE_DSN)")
	name := fs.String("name", "", "model name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "ctcdecode: -dsn is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "import":
		if *name == "" || fs.NArg() != 1 {
			fmt.Fprint(os.Stderr, lmUsage)
			return 2
		}
		err = importARPA(ctx, *dsn, *name, fs.Arg(0), os.Stdout)
	case "list":
		err = listModels(ctx, *dsn, os.Stdout)
	case "delete":
		if *name == "" {
			fmt.Fprint(os.Stderr, lmUsage)
			return 2
		}
		err = withStore(ctx, *dsn, func(s *pgstore.Store) error { return s.Delete(ctx, *name) })
	default:
		fmt.Fprintf(os.Stderr, "ctcdecode: unknown lm command %q\n\n%s", cmd, lmUsage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ctcdecode: %v\n", err)
		return 1
	}
	return 0
}

func withStore(ctx context.Context, dsn string, fn func(*pgstore.Store) error) error {
	s, err := pgstore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func importARPA(ctx context.Context, dsn, name, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	order, entries, err := ngram.ReadARPA(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// Reject entries the model would refuse before touching the store.
	if _, err := ngram.Build(order, entries); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	err = withStore(ctx, dsn, func(s *pgstore.Store) error {
		return s.Import(ctx, name, order, entries)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %q: order %d, %d n-grams\n", name, order, len(entries))
	return nil
}

func listModels(ctx context.Context, dsn string, out io.Writer) error {
	return withStore(ctx, dsn, func(s *pgstore.Store) error {
		models, err := s.Models(ctx)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			_, err := fmt.Fprintln(out, "no models stored")
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tORDER\tNGRAMS")
		for _, m := range models {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", m.Name, m.Order, m.NGrams)
		}
		return tw.Flush()
	})
}
