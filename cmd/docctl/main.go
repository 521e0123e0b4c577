// Command docctl is the command-line client for a docstore server.
//
// Usage:
//
//	docctl [--server URL] [--rpc ADDR] <command> [flags] [args]
//
// Commands:
//
//	upload FILE...   upload files in chunks (or --single for one request)
//	list             list stored files
//	stat NAME        show size and timestamps of a stored file (command port)
//	delete NAME      delete a stored file
//	search QUERY     batch search, printing every occurrence
//	stream QUERY     streaming search with live progress
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

type globals struct {
	server  string
	rpcAddr string
	timeout time.Duration
	out     io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, g *globals, args []string) error
}

var commands = map[string]command{
	"upload": {"upload files in chunks", runUpload},
	"list":   {"list stored files", runList},
	"stat":   {"show details of a stored file", runStat},
	"delete": {"delete a stored file", runDelete},
	"search": {"batch search", runSearch},
	"stream": {"streaming search with live progress", runStream},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string, out io.Writer) error {
	g := &globals{out: out}
	flagSet := pflag.NewFlagSet("docctl", pflag.ContinueOnError)
	flagSet.StringVar(&g.server, "server", envOr("DOCSTORE_URL", "http://localhost:5000"), "docstore HTTP base URL")
	flagSet.StringVar(&g.rpcAddr, "rpc", envOr("DOCSTORE_RPC", ""), "docstore command port (host:port); list, stat, delete, and search use it when set")
	flagSet.DurationVar(&g.timeout, "timeout", 2*time.Minute, "per-request timeout")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printUsage(out, flagSet) }

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		printUsage(out, flagSet)
		return errors.New("no command given")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return cmd.run(ctx, g, args[1:])
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: docctl [global flags] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range []string{"upload", "list", "stat", "delete", "search", "stream"} {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	fmt.Fprint(w, fs.FlagUsages())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseCommand parses a subcommand's flags, requiring exactly nargs
// positional arguments when nargs >= 0.
func parseCommand(fs *pflag.FlagSet, args []string, nargs int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	rest := fs.Args()
	if nargs >= 0 && len(rest) != nargs {
		return nil, fmt.Errorf("usage: docctl %s", usage)
	}
	return rest, nil
}

func runUpload(ctx context.Context, g *globals, args []string) error {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	chunkSize := fs.String("chunk-size", "1MiB", "chunk size (e.g. 512KiB, 4MB)")
	single := fs.Bool("single", false, "send each file in one request")
	name := fs.String("name", "", "stored name (default: base name of the file; single file only)")
	files, err := parseCommand(fs, args, -1, "upload [--chunk-size SIZE] [--single] FILE...")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("usage: docctl upload FILE...")
	}
	if *name != "" && len(files) > 1 {
		return errors.New("--name needs exactly one file")
	}
	size, err := humanize.ParseBytes(*chunkSize)
	if err != nil || size == 0 {
		return fmt.Errorf("invalid --chunk-size %q", *chunkSize)
	}

	c := newHTTPClient(g)
	for _, path := range files {
		stored := *name
		if stored == "" {
			stored = baseName(path)
		}
		if *single {
			doc, err := c.uploadSingle(ctx, path, stored)
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "uploaded %s -> %s\n", path, doc.FilePath)
			continue
		}
		err := c.uploadChunked(ctx, path, stored, int64(size), func(p uploadProgress) {
			fmt.Fprintf(g.out, "\r%s: chunk %d/%d (%s / %s)", stored, p.Chunk, p.Total,
				humanize.IBytes(uint64(p.Sent)), humanize.IBytes(uint64(p.Size)))
		})
		fmt.Fprintln(g.out)
		if err != nil {
			return err
		}
	}
	return nil
}

func runList(ctx context.Context, g *globals, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	if _, err := parseCommand(fs, args, 0, "list"); err != nil {
		return err
	}
	docs, err := listDocuments(ctx, g)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(g.out, "no files stored")
		return nil
	}
	for _, d := range docs {
		created := ""
		if d.CreatedAt > 0 {
			created = humanize.Time(time.Unix(d.CreatedAt, 0))
		}
		fmt.Fprintf(g.out, "%-6d %-40s %s\n", d.ID, d.FileName, created)
	}
	return nil
}

func runStat(ctx context.Context, g *globals, args []string) error {
	fs := pflag.NewFlagSet("stat", pflag.ContinueOnError)
	rest, err := parseCommand(fs, args, 1, "stat NAME")
	if err != nil {
		return err
	}
	if g.rpcAddr == "" {
		return errors.New("stat needs the command port; pass --rpc host:port")
	}
	st, err := statDocument(ctx, g, rest[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "name:     %s\npath:     %s\nsize:     %s (%d bytes)\nmodified: %s\n",
		st.FileName, st.FilePath, humanize.IBytes(uint64(st.SizeBytes)), st.SizeBytes,
		humanize.Time(time.Unix(st.ModifiedAt, 0)))
	return nil
}

func runDelete(ctx context.Context, g *globals, args []string) error {
	fs := pflag.NewFlagSet("delete", pflag.ContinueOnError)
	rest, err := parseCommand(fs, args, 1, "delete NAME")
	if err != nil {
		return err
	}
	if err := deleteDocument(ctx, g, rest[0]); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "deleted %s\n", rest[0])
	return nil
}

func runSearch(ctx context.Context, g *globals, args []string) error {
	fs := pflag.NewFlagSet("search", pflag.ContinueOnError)
	rest, err := parseCommand(fs, args, -1, "search QUERY")
	if err != nil {
		return err
	}
	query := strings.Join(rest, " ")
	matches, err := searchDocuments(ctx, g, query)
	if err != nil {
		return err
	}
	total := 0
	for _, m := range matches {
		fmt.Fprintf(g.out, "%s (%d)\n", m.FileName, len(m.Occurrences))
		for _, o := range m.Occurrences {
			fmt.Fprintf(g.out, "  [%d:%d] %q\n", o.Start, o.End, o.Context)
		}
		total += len(m.Occurrences)
	}
	fmt.Fprintf(g.out, "%s in %s\n", plural(total, "occurrence"), plural(len(matches), "file"))
	return nil
}

func runStream(ctx context.Context, g *globals, args []string) error {
	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)
	quiet := fs.BoolP("quiet", "q", false, "do not print individual occurrences")
	rest, err := parseCommand(fs, args, -1, "stream [-q] QUERY")
	if err != nil {
		return err
	}
	return streamSearch(ctx, g, strings.Join(rest, " "), *quiet)
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), word)
}
