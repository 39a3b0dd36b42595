// fasttext downloads pretrained FastText word vectors, saves them as embedding tables and inspects saved tables.
//
// Usage:
//
//	fasttext [klog flags] fetch  [-root DIR] [-name 1M] [-dims 300] [-special_first] <folder>
//	fasttext [klog flags] info   [-root DIR] <folder>
//	fasttext [klog flags] lookup [-root DIR] [-n 5] <folder> <word>...
//	fasttext [klog flags] export [-root DIR] <folder> <output.parquet|output.safetensors>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/go-fasttext/cache"
	"github.com/gomlx/go-fasttext/fasttext"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
	"k8s.io/klog/v2"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
)

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"fetch":  {"[-root DIR] [-name 1M] [-dims 300] [-special_first] <folder>", runFetch},
	"info":   {"[-root DIR] <folder>", runInfo},
	"lookup": {"[-root DIR] [-n 5] <folder> <word>...", runLookup},
	"export": {"[-root DIR] <folder> <output.parquet|output.safetensors>", runExport},
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command> [command flags] [args]\n\nCommands:\n", os.Args[0])
	for _, name := range []string{"fetch", "info", "lookup", "export"} {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-7s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(flag.CommandLine.Output(), "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	defer klog.Flush()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, found := commands[flag.Arg(0)]
	if !found {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("unknown command %q", flag.Arg(0))))
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = klog.NewContext(ctx, klog.Background().WithName(flag.Arg(0)))
	if err := cmd.run(ctx, flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %+v", err)))
		klog.Flush()
		os.Exit(1)
	}
}

// newFlagSet creates the flag set of a command, with the common -root flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s %s %s\n", os.Args[0], name, commands[name].usage)
		fs.PrintDefaults()
	}
	root := fs.String("root", fasttext.DefaultRoot(), "Root directory for downloaded and saved embeddings.")
	return fs, root
}

func runFetch(ctx context.Context, args []string) error {
	fs, root := newFlagSet("fetch")
	name := fs.String("name", fasttext.DefaultSourceName, fmt.Sprintf("Pretrained source, one of %q.", fasttext.SupportedSources()))
	dims := fs.Int("dims", fasttext.DefaultDims, fmt.Sprintf("Vector dimension, one of %v.", fasttext.SupportedDims))
	specialFirst := fs.Bool("special_first", false, "Add special tokens at the start of the vocabulary instead of the end.")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("fetch requires the name of the folder to save the embedding to")
	}

	downloads := cache.New(fasttext.CacheDir(*root))
	downloads.Progress = printProgress
	emb, _, err := fasttext.Pretrained(ctx, fasttext.PretrainedOptions{
		Name:         *name,
		Dims:         *dims,
		Root:         *root,
		SpecialFirst: *specialFirst,
		Cache:        downloads,
	})
	if err != nil {
		return err
	}
	if err := emb.Save(ctx, *root, fs.Arg(0)); err != nil {
		return err
	}
	printInfo(fasttext.SaveDir(*root, fs.Arg(0)), emb)
	return nil
}

// printProgress shows the download progress on a single terminal line.
func printProgress(downloaded, total int64, done bool) {
	const mb = 1024 * 1024
	switch {
	case done:
		fmt.Printf("\r%s %.1f MB\n", keyStyle.Render("downloaded"), float64(downloaded)/mb)
	case total > 0:
		fmt.Printf("\r%s %.1f / %.1f MB (%d%%)", keyStyle.Render("downloading"),
			float64(downloaded)/mb, float64(total)/mb, downloaded*100/total)
	default:
		fmt.Printf("\r%s %.1f MB", keyStyle.Render("downloading"), float64(downloaded)/mb)
	}
}

func runInfo(ctx context.Context, args []string) error {
	fs, root := newFlagSet("info")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("info requires the folder name")
	}
	emb, err := fasttext.Load(ctx, *root, fs.Arg(0))
	if err != nil {
		return err
	}
	printInfo(fasttext.SaveDir(*root, fs.Arg(0)), emb)
	return nil
}

func runLookup(ctx context.Context, args []string) error {
	fs, root := newFlagSet("lookup")
	n := fs.Int("n", 5, "Number of vector values to print per word.")
	_ = fs.Parse(args)
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("lookup requires the folder name and at least one word")
	}
	emb, err := fasttext.Load(ctx, *root, fs.Arg(0))
	if err != nil {
		return err
	}
	emb.SetTrainState(false)

	fmt.Println(titleStyle.Render("Lookup"))
	for _, word := range fs.Args()[1:] {
		word = norm.NFC.String(word)
		id, found := emb.Vocab().ID(word)
		if !found {
			fmt.Printf("  %s %s\n", keyStyle.Render(word), errorStyle.Render("not in vocabulary"))
			continue
		}
		row, err := emb.Row(id)
		if err != nil {
			return err
		}
		shown := max(0, min(*n, len(row)))
		values := make([]string, 0, shown+1)
		for _, v := range row[:shown] {
			values = append(values, fmt.Sprintf("%.4f", v))
		}
		if shown < len(row) {
			values = append(values, "...")
		}
		fmt.Printf("  %s %s\n", keyStyle.Render(fmt.Sprintf("%s (id=%d)", word, id)),
			valueStyle.Render("["+strings.Join(values, " ")+"]"))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs, root := newFlagSet("export")
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("export requires the folder name and the output file")
	}
	emb, err := fasttext.Load(ctx, *root, fs.Arg(0))
	if err != nil {
		return err
	}
	output := fs.Arg(1)
	switch ext := strings.ToLower(filepath.Ext(output)); ext {
	case ".parquet":
		err = emb.ExportParquet(output)
	case ".safetensors":
		err = emb.ExportSafetensors(output)
	default:
		err = errors.Errorf("unknown export format %q, use a .parquet or .safetensors output file", ext)
	}
	if err != nil {
		return err
	}
	klog.FromContext(ctx).Info("exported embedding", "output", output, "vocab_size", emb.VocabSize())
	return nil
}

func printInfo(dir string, emb *fasttext.Embedding) {
	config := emb.Config()
	rows := [][2]string{
		{"folder", dir},
		{"vocab size", fmt.Sprint(emb.VocabSize())},
		{"dims", fmt.Sprint(emb.Dim())},
		{"dropout", fmt.Sprint(config.Dropout)},
		{"requires grad", fmt.Sprint(config.RequiresGrad)},
		{"train state", fmt.Sprint(config.TrainState)},
	}
	for key, value := range config.Extra {
		rows = append(rows, [2]string{key, fmt.Sprint(value)})
	}
	fmt.Println(titleStyle.Render("FastText embedding"))
	for _, row := range rows {
		fmt.Printf("  %s %s\n", keyStyle.Width(14).Render(row[0]+":"), valueStyle.Render(row[1]))
	}
}
