// Command testrunner executes precompiled package test binaries (built with
// go test -c) inside the release image, unit packages first and then the
// selected integration tests against the configured database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	testsDir        string
	workDir         string
	short           bool
	pkgParallel     int
	count           int
	integrationRun  string
	integrationPath string
	verbose         bool
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "testrunner",
		Short:         "Run compiled snapcal test binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.testsDir, "tests-dir", "/app/tests", "directory containing compiled test binaries")
	f.StringVar(&o.workDir, "work-dir", "/app", "fallback working directory for test binaries")
	f.BoolVar(&o.short, "short", false, "run tests with -test.short (skips database integration tests)")
	f.IntVar(&o.pkgParallel, "pkg-parallel", runtime.NumCPU(), "number of packages to run in parallel")
	f.IntVar(&o.count, "count", 1, "pass -test.count (1 disables caching)")
	f.StringVar(&o.integrationRun, "integration-run", "", "regex of integration test(s) to run with -test.run")
	f.StringVar(&o.integrationPath, "integration-path", "", "package path like 'api/router' for the integration run")
	f.BoolVarP(&o.verbose, "verbose", "v", true, "add -test.v to test binaries")
	return cmd
}

func run(ctx context.Context, o options) error {
	bins, err := collectTestBinaries(o.testsDir)
	if err != nil {
		return err
	}
	if len(bins) == 0 {
		return errors.New("no test binaries found")
	}

	var integrationBin string
	if o.integrationRun != "" {
		if o.integrationPath == "" {
			return errors.New("integration-path is required when integration-run is set")
		}
		integrationBin = filepath.Join(o.testsDir, filepath.FromSlash(o.integrationPath)+".test")
		if _, err := os.Stat(integrationBin); err != nil {
			return fmt.Errorf("integration binary not found at %s: %w", integrationBin, err)
		}
	}

	// The integration package runs separately with -test.parallel=1.
	unitBins := make([]string, 0, len(bins))
	for _, b := range bins {
		if integrationBin != "" && sameFile(b, integrationBin) {
			continue
		}
		unitBins = append(unitBins, b)
	}

	fmt.Println("==> Running unit tests")
	if err := runBinaries(ctx, unitBins, testArgs(o.verbose, o.short, o.count, 0), o.pkgParallel, o.workDir); err != nil {
		return err
	}

	if integrationBin != "" {
		fmt.Printf("==> Running integration tests in %s with -test.run=%s\n", o.integrationPath, o.integrationRun)
		args := append(testArgs(o.verbose, o.short, o.count, 1), "-test.run", o.integrationRun)
		if err := runBinaries(ctx, []string{integrationBin}, args, 1, o.workDir); err != nil {
			return err
		}
	}

	fmt.Println("==> All tests passed")
	return nil
}

func collectTestBinaries(root string) ([]string, error) {
	var bins []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".test") {
			bins = append(bins, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(bins)
	return bins, nil
}

func testArgs(verbose, short bool, count, testParallel int) []string {
	var args []string
	if verbose {
		args = append(args, "-test.v")
	}
	if short {
		args = append(args, "-test.short")
	}
	if count > 0 {
		args = append(args, fmt.Sprintf("-test.count=%d", count))
	}
	if testParallel > 0 {
		args = append(args, fmt.Sprintf("-test.parallel=%d", testParallel))
	}
	return args
}

// runBinaries runs every binary and reports the first failure after all of
// them have finished.
func runBinaries(ctx context.Context, bins, args []string, parallel int, workDir string) error {
	if parallel < 1 {
		parallel = 1
	}
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, b := range bins {
		b := b
		g.Go(func() error {
			cmd := exec.CommandContext(ctx, b, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			cmd.Env = os.Environ()
			cmd.Dir = binaryDir(b, workDir)
			fmt.Printf("[RUN] %s %s\n", b, strings.Join(args, " "))
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("%s failed: %w", b, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// binaryDir picks the package-like directory next to a binary (api/router.test
// runs in api/router) so relative fixtures resolve, else workDir.
func binaryDir(bin, workDir string) string {
	if wd := strings.TrimSuffix(bin, ".test"); wd != bin {
		if fi, err := os.Stat(wd); err == nil && fi.IsDir() {
			return wd
		}
	}
	return workDir
}

func sameFile(a, b string) bool {
	ap, _ := filepath.Abs(a)
	bp, _ := filepath.Abs(b)
	return ap == bp
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
