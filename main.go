package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the command line entry point. It returns the process exit code:
// 0 on success, 1 when the script has errors or collisions remain, 2 on
// usage errors.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("softbody", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", "", "resolution mode: global, regions or relax (default from the scene settings)")
	check := fs.Bool("check", false, "evaluate and validate only, do not simulate")
	asJSON := fs.Bool("json", false, "write the full result as JSON to stdout")
	quiet := fs.Bool("quiet", false, "suppress solver progress logging")
	kernelName := fs.String("kernel", "sdfx", "solid modeling kernel for surface bodies: sdfx or manifold")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: softbody [flags] scene.lisp")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	m, err := ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	newKernel, err := KernelByName(*kernelName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "failed to read script: %v\n", err)
		return 1
	}

	logOut := stderr
	if *quiet {
		logOut = io.Discard
	}
	app := NewAppWithLogger(log.New(logOut, "softbody: ", log.LstdFlags))
	app.UseKernel(newKernel)

	var result EvalResult
	if *check {
		result = app.Evaluate(string(source))
	} else {
		result = app.Simulate(string(source), m)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(stderr, "failed to encode result: %v\n", err)
			return 1
		}
	} else {
		printSummary(stdout, result)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "warning: %s\n", formatMessage(w))
	}
	for _, e := range result.Errors {
		fmt.Fprintf(stderr, "error: %s\n", formatMessage(e))
	}
	if len(result.Errors) > 0 {
		return 1
	}
	if result.Report != nil && result.Report.Collisions > 0 {
		return 1
	}
	return 0
}

func formatMessage(e EvalErrorData) string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

func printSummary(w io.Writer, r EvalResult) {
	for _, m := range r.Meshes {
		driver := "fem"
		if m.Springs {
			driver = "springs"
		}
		fmt.Fprintf(w, "%-16s %6d nodes %6d triangles  %s\n", m.BodyName, m.Nodes, len(m.Indices)/3, driver)
	}
	if r.Report != nil {
		rep := r.Report
		fmt.Fprintf(w, "mode %s: %d iterations, %d collisions left, %d regions, %.3fs\n",
			rep.Mode, rep.Iterations, rep.Collisions, rep.Regions, rep.ElapsedSeconds)
		fmt.Fprintf(w, "displacement mean %.4g max %.4g rms %.4g\n",
			rep.MeanDisplacement, rep.MaxDisplacement, rep.RMSDisplacement)
	}
}
