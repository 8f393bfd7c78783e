/*
tsinfer infers a tree sequence from a panel of binary haplotype samples.

usage: tsinfer [flags]... <samples_file> <positions_file>

positional arguments:

	<samples_file>		one line per sample, a string of '0'/'1' characters
	<positions_file>	one ascending site position (float) per line

flags:

	-h	prints help and exits
	-v	prints version number and exits
	-o string
	  	output prefix
	-n int
	  	number of worker threads (default: all available)
	-m method
	  	matcher backend [native|reference] (default "native")
	-rho float
	  	recombination rate (default 1e-8)
	-e float
	  	error rate (default 0)
	-l float
	  	sequence length (default: last position + 1)
	-break-polytomies
	  	route children sharing a parent and interval through one new node
	-replace-recombinations
	  	replace edge sets shared by multiple children with a synthetic node
	-diagnostics prefix
	  	if set, write an allele-frequency-spectrum plot to prefix.png

examples:

	tsinfer -o run1 samples.txt positions.txt
*/
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"tsinfer"
)

const (
	Version      = "v0.1.0"
	ErrorMessage = "tsinfer encountered an error ::"
	TimeFormat   = "2006-01-02_15-04-05"
)

type args struct {
	prefix        string
	samplesFile   string
	positionsFile string
	numThreads    int
	method        string
	rho           float64
	errorRate     float64
	seqLength     float64
	breakPoly     bool
	replaceRecomb bool
	diagnostics   string
}

func usage() {
	fmt.Fprint(flag.CommandLine.Output(), // nolint
		"usage: tsinfer [flags]... <samples_file> <positions_file>\n",
		"\n",
		"positional arguments:\n\n",
		"  <samples_file>\tone line per sample, a string of '0'/'1' characters\n",
		"  <positions_file>\tone ascending site position (float) per line\n",
		"\n",
		"flags:\n\n",
	)
	flag.PrintDefaults()
}

func parseArgs() args {
	flag.Usage = usage
	prefix := flag.String("o", "", "output prefix")
	nthreads := flag.Int("n", 0, "number of worker threads (default: all available)")
	method := flag.String("m", "native", "matcher backend `method` [native|reference]")
	rho := flag.Float64("rho", 1e-8, "recombination rate")
	errRate := flag.Float64("e", 0, "error rate")
	seqLen := flag.Float64("l", 0, "sequence length (default: last position + 1)")
	breakPoly := flag.Bool("break-polytomies", false, "route children sharing a parent and interval through one new node")
	replaceRecomb := flag.Bool("replace-recombinations", false, "replace edge sets shared by multiple children with a synthetic node")
	diagnostics := flag.String("diagnostics", "", "if set, write an allele-frequency-spectrum plot to `prefix`.png")
	help := flag.Bool("h", false, "prints help and exits")
	ver := flag.Bool("v", false, "prints version number and exits")
	flag.Parse()
	if *help {
		usage()
		os.Exit(0)
	}
	if *ver {
		fmt.Printf("tsinfer %s\n", Version)
		os.Exit(0)
	}
	if flag.NArg() != 2 {
		parserError("two positional arguments required: <samples_file> <positions_file>")
	}
	return args{
		prefix:        *prefix,
		samplesFile:   flag.Arg(0),
		positionsFile: flag.Arg(1),
		numThreads:    *nthreads,
		method:        *method,
		rho:           *rho,
		errorRate:     *errRate,
		seqLength:     *seqLen,
		breakPoly:     *breakPoly,
		replaceRecomb: *replaceRecomb,
		diagnostics:   *diagnostics,
	}
}

func parserError(message string) {
	fmt.Fprintln(os.Stderr, message+"\n")
	usage()
	os.Exit(1)
}

func defaultPrefix(a args) string {
	parseName := func(s string) string {
		parts := strings.Split(s, string(os.PathSeparator))
		parts = strings.Split(parts[len(parts)-1], ".")
		if len(parts) > 1 {
			return strings.Join(parts[:len(parts)-1], ".")
		}
		return parts[0]
	}
	return fmt.Sprintf("tsinfer_%s_%s", parseName(a.samplesFile), time.Now().Local().Format(TimeFormat))
}

func main() {
	var exit int
	defer func() {
		os.Exit(exit)
	}()
	buf := &bytes.Buffer{}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(io.MultiWriter(os.Stderr, buf))
	a := parseArgs()
	if a.prefix == "" {
		a.prefix = defaultPrefix(a)
		log.Printf("output prefix was not set, using %q", a.prefix)
	}
	if logf, err := os.Create(fmt.Sprintf("%s.log", a.prefix)); err == nil {
		logf.Write(buf.Bytes()) // nolint
		log.SetOutput(io.MultiWriter(os.Stderr, logf))
		defer func() {
			log.SetOutput(os.Stderr)
			_ = logf.Close()
		}()
	} else {
		log.Printf("failed to create log file %s.log, %s", a.prefix, err)
	}
	log.Printf("tsinfer %s", Version)
	log.Printf("invoked as: tsinfer %s", strings.Join(os.Args[1:], " "))
	if err := run(a); err != nil {
		log.Printf("%s %s", ErrorMessage, err)
		exit = 1
	}
}

func run(a args) error {
	samples, err := readSamples(a.samplesFile)
	if err != nil {
		return err
	}
	positions, err := readPositions(a.positionsFile)
	if err != nil {
		return err
	}
	seqLength := a.seqLength
	if seqLength <= 0 && len(positions) > 0 {
		seqLength = positions[len(positions)-1] + 1
	}

	var method tsinfer.Method
	switch a.method {
	case "native":
		method = tsinfer.MethodNative
	case "reference":
		method = tsinfer.MethodReference
	default:
		return fmt.Errorf("unknown method %q: valid methods are \"native\" and \"reference\"", a.method)
	}

	opts := []tsinfer.Option{
		tsinfer.WithRecombinationRate(a.rho),
		tsinfer.WithErrorRate(a.errorRate),
		tsinfer.WithNumThreads(a.numThreads),
		tsinfer.WithMethod(method),
		tsinfer.WithLogLevel(tsinfer.LogInfo),
		tsinfer.WithRewrites(a.breakPoly, a.replaceRecomb),
	}
	if a.diagnostics != "" {
		opts = append(opts, tsinfer.WithDiagnosticsPath(a.diagnostics))
	}

	result, err := tsinfer.Infer(context.Background(), tsinfer.Input{
		Samples:        samples,
		Positions:      positions,
		SequenceLength: seqLength,
	}, opts...)
	if err != nil {
		return err
	}

	if err := writeTable(fmt.Sprintf("%s.nodes.csv", a.prefix), []string{"id", "time", "is_sample"}, len(result.Nodes), func(i int) []string {
		n := result.Nodes[i]
		return []string{strconv.Itoa(i), strconv.FormatFloat(n.Time, 'g', -1, 64), strconv.FormatBool(n.IsSample)}
	}); err != nil {
		return err
	}
	if err := writeTable(fmt.Sprintf("%s.edges.csv", a.prefix), []string{"left", "right", "parent", "child"}, len(result.Edges), func(i int) []string {
		e := result.Edges[i]
		return []string{strconv.Itoa(e.Left), strconv.Itoa(e.Right), strconv.Itoa(int(e.Parent)), strconv.Itoa(int(e.Child))}
	}); err != nil {
		return err
	}
	if err := writeTable(fmt.Sprintf("%s.sites.csv", a.prefix), []string{"id", "position"}, len(result.Positions), func(i int) []string {
		return []string{strconv.Itoa(i), strconv.FormatFloat(result.Positions[i], 'g', -1, 64)}
	}); err != nil {
		return err
	}
	if err := writeTable(fmt.Sprintf("%s.mutations.csv", a.prefix), []string{"site", "node", "derived_state", "parent"}, len(result.Mutations), func(i int) []string {
		m := result.Mutations[i]
		return []string{strconv.Itoa(m.Site), strconv.Itoa(int(m.Node)), string(m.Derived), strconv.Itoa(int(m.Parent))}
	}); err != nil {
		return err
	}
	log.Printf("wrote %s.{nodes,edges,sites,mutations}.csv", a.prefix)
	return nil
}

func readSamples(path string) ([][]uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out [][]uint8
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row := make([]uint8, len(line))
		for i, c := range line {
			if c != '0' && c != '1' {
				return nil, fmt.Errorf("%s: non-binary character %q at sample %d site %d", path, c, len(out), i)
			}
			row[i] = uint8(c - '0')
		}
		out = append(out, row)
	}
	return out, scanner.Err()
}

func readPositions(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}

func writeTable(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Printf("error closing %s, %s", path, cerr)
		}
	}()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	return w.Error()
}
