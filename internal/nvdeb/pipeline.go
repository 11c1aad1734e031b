package nvdeb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// pipelineOptions control one architecture run.
type pipelineOptions struct {
	Publish bool // publish the assembled package when true
	Quiet   bool // suppress console output (parallel runs write to logs only)
	LogOnly bool // tool output goes to the log file only, not the console
}

// pipelineResult is what one architecture run hands back.
type pipelineResult struct {
	Selector string
	Desc     *PackageDescriptor
	Release  *ReleaseRecord
	Duration time.Duration
	Err      error
}

// defaultTimeout bounds a whole pipeline run. Overridable with
// NVDEB_TIMEOUT_MINUTES. On timeout the run fails; nothing partial is
// published.
const defaultTimeoutMinutes = 120

func pipelineTimeout(cfg *Config) time.Duration {
	if v := cfg.Values["NVDEB_TIMEOUT_MINUTES"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return defaultTimeoutMinutes * time.Minute
}

// runPipeline executes the full stage sequence for one architecture
// selector. The stages are strictly linear; any failure aborts the
// remaining stages of this run. There are no automatic retries anywhere:
// transient mirror and network failures stay visible instead of being
// masked by a silently-degraded artifact.
//
// Stage order: resolve -> provision -> dependencies -> build -> verify ->
// version -> assemble -> publish. Resolution runs first because it is pure
// and fails fast, and provisioning needs the resolved TargetSpec to pick
// the cross toolchain packages.
func runPipeline(ctx context.Context, selector, channel string, cfg *Config, opts pipelineOptions) pipelineResult {
	start := time.Now()
	res := pipelineResult{Selector: selector}

	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout(cfg))
	defer cancel()

	// Per-run log file; each selector owns its own so concurrent runs
	// never interleave.
	if err := os.MkdirAll(LogDir, 0o755); err != nil {
		res.Err = &stageError{Stage: "setup", Err: err}
		return res
	}
	logPath := filepath.Join(LogDir, fmt.Sprintf("%s-%s.log", selector, start.Format("20060102-150405")))
	logFile, err := os.Create(logPath)
	if err != nil {
		res.Err = &stageError{Stage: "setup", Err: err}
		return res
	}
	defer func() {
		logFile.Close()
		if res.Err == nil {
			if err := compressLogXZ(logPath); err != nil {
				debugf("log compression failed: %v\n", err)
			}
		}
	}()

	var logw io.Writer = logFile
	if !opts.LogOnly {
		logw = io.MultiWriter(logFile, os.Stdout)
	}

	fail := func(stage string, err error) pipelineResult {
		res.Err = &stageError{Stage: stage, Err: err}
		res.Duration = time.Since(start)
		fmt.Fprintf(logFile, "\nFAILED at stage %s: %v\n", stage, err)
		return res
	}

	// Executors for this run share the bounded context.
	runUser := &Executor{Context: ctx}
	runRoot := &Executor{Context: ctx, ShouldRunAsRoot: true}

	// Stage 1: resolve the target. Pure, fails fast on bad input.
	spec, err := resolveTarget(selector)
	if err != nil {
		return fail("resolve", err)
	}
	fmt.Fprintf(logFile, "target: %s (%s, %s)\n", spec.Arch, spec.Mode, channel)

	// Stage 2: provision host tools and, for cross, the cross toolchain.
	if err := provisionEnvironment(runRoot, spec, logw); err != nil {
		return fail("provision", err)
	}

	// Stage 3: dependency stage. Atomic; a partial set never leaves it.
	ds, err := buildDependencies(runUser, spec, logw)
	if err != nil {
		return fail("dependencies", err)
	}

	// Stage 4: main build against the resolved dependency set.
	art, err := mainBuild(runUser, spec, ds, channel, logw)
	if err != nil {
		return fail("build", err)
	}

	// Stage 5: verify the ELF machine tag against the requested target.
	if err := verifyArtifact(art, spec); err != nil {
		return fail("verify", err)
	}

	// Stage 6: resolve the release version from external metadata.
	rawVersion, err := resolveRawVersion(channel, cfg)
	if err != nil {
		return fail("version", err)
	}

	// Stage 7: assemble the Debian package.
	desc, err := assemblePackage(runUser, art, spec, rawVersion, channel, logw)
	if err != nil {
		return fail("assemble", err)
	}
	res.Desc = desc

	// Stage 8: publish, only when requested and only with a complete run.
	if opts.Publish {
		isCriticalAtomic.Store(1)
		defer isCriticalAtomic.Store(0)
		rec, err := publishPackage(desc, cfg)
		if err != nil {
			return fail("publish", err)
		}
		res.Release = rec
	}

	res.Duration = time.Since(start)
	if !opts.Quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("%s pipeline finished in %s: %s\n", selector, res.Duration.Round(time.Second), filepath.Base(desc.PkgPath))
	}
	return res
}

// resolveRawVersion fetches and validates the channel version, returning it
// in the raw vX.Y.Z form the assembler expects.
func resolveRawVersion(channel string, cfg *Config) (string, error) {
	v, err := resolveVersion(channel, cfg)
	if err != nil {
		return "", err
	}
	return "v" + v, nil
}

// runAllPipelines executes the native and cross pipelines concurrently.
// The two runs share nothing: each owns its staging prefix, work dir,
// output root, and log file.
func runAllPipelines(ctx context.Context, channel string, cfg *Config, publish bool) []pipelineResult {
	selectors := []string{SelectorNative, SelectorCross}
	results := make([]pipelineResult, len(selectors))

	var wg sync.WaitGroup
	for i, sel := range selectors {
		wg.Add(1)
		go func(i int, sel string) {
			defer wg.Done()
			results[i] = runPipeline(ctx, sel, channel, cfg, pipelineOptions{
				Publish: publish,
				Quiet:   true,
				LogOnly: true,
			})
		}(i, sel)
	}
	wg.Wait()
	return results
}
