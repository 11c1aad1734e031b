package nvdeb

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/ulikunitz/xz"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: nvdeb <command> [arguments]")
	colSuccess.Println("Run 'nvdeb <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"build, b", "[options] <native|cross|all>", "Run the full pipeline for a target"},
		{"provision, p", "<native|cross>", "Install host tools and cross toolchain"},
		{"deps, d", "<native|cross>", "Build or resolve the dependency stage only"},
		{"verify, v", "<binary> <native|cross>", "Check a binary's ELF machine tag against a target"},
		{"package", "[options] <native|cross>", "Assemble a .deb from the last build output"},
		{"publish", "[options] <native|cross>", "Publish the newest assembled package"},
		{"resolve-version", "[options]", "Fetch release notes and extract the version"},
		{"checksum, c", "", "Fetch dependency sources and record checksums"},
		{"upload", "", "Mirror built packages to the S3 mirror"},
		{"log", "[selector]", "TUI log viewer, or page one run's log"},
		{"clean", "", "Remove staging, work, and output directories"},
	}

	// Dynamic padding: size the first column to the longest usage string.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

// needsRootPrivileges checks if any of the requested operations require root
func needsRootPrivileges(args []string) bool {
	if len(args) < 1 {
		return false
	}
	rootCommands := map[string]bool{
		"build":     true,
		"b":         true,
		"provision": true,
		"p":         true,
		"clean":     true,
	}
	return rootCommands[args[0]]
}

// authenticateOnce performs a single authentication check at program start
func authenticateOnce() error {
	if os.Geteuid() == 0 {
		return nil
	}
	cmd := exec.Command("sudo", "-v")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo authentication failed: %w", err)
	}
	return nil
}

// Main is the CLI entrypoint for cmd/nvdeb.
func Main() {
	// 1. CONTEXT AND SIGNAL SETUP
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// Publish in progress: block the 1st signal, force exit on the 2nd.
					colArrow.Print("\n-> ")
					colError.Printf("Critical operation in progress (publish). Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()
					time.Sleep(100 * time.Millisecond)
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(0)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// 2. CONFIG
	if ctx.Err() != nil {
		return
	}
	if len(os.Args) < 2 {
		printHelp()
		return
	}

	cfg, err := loadConfig(ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load: %v\n", err)
	}
	initConfig(cfg)
	if cfg.Values["NVDEB_DEBUG"] == "1" {
		Debug = true
	}
	if cfg.Values["NVDEB_VERBOSE"] == "1" {
		Verbose = true
	}

	// 3. CHECK IF ROOT PRIVILEGES ARE NEEDED
	if needsRootPrivileges(os.Args[1:]) {
		if err := authenticateOnce(); err != nil {
			fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
			os.Exit(1)
		}
	}

	// 4. INITIALIZE EXECUTORS
	UserExec = &Executor{Context: ctx}
	RootExec = &Executor{Context: ctx, ShouldRunAsRoot: true}

	// 5. MAIN LOGIC
	var exitCode int

	switch os.Args[1] {
	case "version", "--version":
		colNote.Printf("nvdeb %s (%s) built %s\n", version, hostArch, buildDate)

	case "build", "b":
		buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
		publish := buildCmd.Bool("publish", false, "publish the assembled package")
		channel := buildCmd.String("channel", cfg.Values["NVDEB_CHANNEL"], "release channel (stable or nightly)")
		buildCmd.Parse(os.Args[2:])
		if buildCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: nvdeb build [-publish] [-channel stable|nightly] <native|cross|all>")
			os.Exit(1)
		}
		exitCode = handleBuildCommand(ctx, buildCmd.Arg(0), *channel, cfg, *publish)

	case "provision", "p":
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "Usage: nvdeb provision <native|cross>")
			os.Exit(1)
		}
		spec, err := resolveTarget(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := provisionEnvironment(RootExec, spec, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Provisioning failed: %v\n", err)
			os.Exit(1)
		}

	case "deps", "d":
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "Usage: nvdeb deps <native|cross>")
			os.Exit(1)
		}
		spec, err := resolveTarget(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ds, err := buildDependencies(UserExec, spec, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Dependency stage failed: %v\n", err)
			os.Exit(1)
		}
		printDependencySet(ds)

	case "verify", "v":
		if len(os.Args) != 4 {
			fmt.Fprintln(os.Stderr, "Usage: nvdeb verify <binary> <native|cross>")
			os.Exit(1)
		}
		exitCode = handleVerifyCommand(os.Args[2], os.Args[3])

	case "package":
		pkgCmd := flag.NewFlagSet("package", flag.ExitOnError)
		rawVersion := pkgCmd.String("version", "", "package version (vX.Y.Z); fetched from release metadata when empty")
		channel := pkgCmd.String("channel", cfg.Values["NVDEB_CHANNEL"], "release channel")
		pkgCmd.Parse(os.Args[2:])
		if pkgCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: nvdeb package [-version vX.Y.Z] [-channel stable|nightly] <native|cross>")
			os.Exit(1)
		}
		exitCode = handlePackageCommand(pkgCmd.Arg(0), *rawVersion, *channel, cfg)

	case "publish":
		pubCmd := flag.NewFlagSet("publish", flag.ExitOnError)
		channel := pubCmd.String("channel", cfg.Values["NVDEB_CHANNEL"], "release channel")
		pubCmd.Parse(os.Args[2:])
		if pubCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: nvdeb publish [-channel stable|nightly] <native|cross>")
			os.Exit(1)
		}
		exitCode = handlePublishCommand(pubCmd.Arg(0), *channel, cfg)

	case "resolve-version":
		rvCmd := flag.NewFlagSet("resolve-version", flag.ExitOnError)
		channel := rvCmd.String("channel", cfg.Values["NVDEB_CHANNEL"], "release channel")
		rvCmd.Parse(os.Args[2:])
		v, err := resolveVersion(*channel, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Version resolution failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(v)

	case "checksum", "c":
		if err := handleChecksumCommand(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Checksum failed: %v\n", err)
			os.Exit(1)
		}

	case "upload":
		if err := uploadPackages(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			os.Exit(1)
		}

	case "log":
		if len(os.Args) >= 3 {
			exitCode = pageRunLog(os.Args[2])
		} else {
			exitCode = runTUI()
		}

	case "clean":
		if err := handleCleanCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Clean failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printHelp()
		exitCode = 1
	}

	os.Exit(exitCode)
}

func handleBuildCommand(ctx context.Context, selector, channel string, cfg *Config, publish bool) int {
	if channel != "stable" && channel != "nightly" {
		fmt.Fprintf(os.Stderr, "Error: unknown channel %q (want stable or nightly)\n", channel)
		return 1
	}

	var results []pipelineResult
	if selector == "all" {
		colArrow.Print("-> ")
		colSuccess.Println("Running native and cross pipelines concurrently")
		results = runAllPipelines(ctx, channel, cfg, publish)
	} else {
		results = []pipelineResult{
			runPipeline(ctx, selector, channel, cfg, pipelineOptions{Publish: publish}),
		}
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			colArrow.Print("-> ")
			colError.Printf("%s pipeline failed: %v\n", res.Selector, res.Err)
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("%s: %s (v%s, %s) in %s\n",
			res.Selector, filepath.Base(res.Desc.PkgPath), res.Desc.Version,
			res.Desc.Arch, res.Duration.Round(time.Second))
		if res.Release != nil {
			cPrintf(colInfo, "   published as %s with assets: %s\n",
				res.Release.TagName, strings.Join(res.Release.Assets, ", "))
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func handleVerifyCommand(binPath, selector string) int {
	spec, err := resolveTarget(selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	info, err := os.Stat(binPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	art := &BuildArtifact{BinPath: binPath, Size: info.Size()}
	if err := verifyArtifact(art, spec); err != nil {
		colArrow.Print("-> ")
		colError.Printf("Verification failed: %v\n", err)
		return 1
	}
	colArrow.Print("-> ")
	colSuccess.Printf("%s matches %s (%s)\n", filepath.Base(binPath), spec.Selector, spec.Arch)
	return 0
}

func handlePackageCommand(selector, rawVersion, channel string, cfg *Config) int {
	spec, err := resolveTarget(selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	installRoot := filepath.Join(OutputDir, spec.Selector)
	binPath := filepath.Join(installRoot, "usr", "bin", "nvim")
	info, err := os.Stat(binPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no build output for %s (run 'nvdeb build %s' first): %v\n", selector, selector, err)
		return 1
	}
	art := &BuildArtifact{BinPath: binPath, InstallRoot: installRoot, Size: info.Size()}

	// Re-verify before packaging; stale output may belong to another target.
	if err := verifyArtifact(art, spec); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if rawVersion == "" {
		v, err := resolveVersion(channel, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Version resolution failed: %v\n", err)
			return 1
		}
		rawVersion = "v" + v
	}

	desc, err := assemblePackage(UserExec, art, spec, rawVersion, channel, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Packaging failed: %v\n", err)
		return 1
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Assembled %s and %s\n", filepath.Base(desc.PkgPath), filepath.Base(desc.VersionedPath))
	return 0
}

func handlePublishCommand(selector, channel string, cfg *Config) int {
	spec, err := resolveTarget(selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	desc, err := newestPackageDescriptor(spec, channel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)
	rec, err := publishPackage(desc, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Published %s (%d assets)\n", rec.TagName, len(rec.Assets))
	return 0
}

// newestPackageDescriptor reconstructs a descriptor from the most recent
// versioned package file for a target and channel.
func newestPackageDescriptor(spec *TargetSpec, channel string) (*PackageDescriptor, error) {
	pattern := filepath.Join(PackagesDir,
		fmt.Sprintf("%s-*-%s-linux-%s.deb", productName, channel, spec.Arch))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	// The canonical (unversioned) name also matches the glob; drop it.
	canonical := canonicalPackageName(channel, spec.Arch)
	var versioned []string
	for _, m := range matches {
		if filepath.Base(m) != canonical {
			versioned = append(versioned, m)
		}
	}
	if len(versioned) == 0 {
		return nil, fmt.Errorf("no versioned package for %s/%s in %s (run 'nvdeb build %s' first)",
			channel, spec.Arch, PackagesDir, spec.Selector)
	}
	sort.Slice(versioned, func(i, j int) bool {
		ii, _ := os.Stat(versioned[i])
		jj, _ := os.Stat(versioned[j])
		if ii == nil || jj == nil {
			return versioned[i] > versioned[j]
		}
		return ii.ModTime().After(jj.ModTime())
	})
	newest := versioned[0]

	base := strings.TrimSuffix(filepath.Base(newest), ".deb")
	trimmed := strings.TrimPrefix(base, productName+"-")
	suffix := fmt.Sprintf("-%s-linux-%s", channel, spec.Arch)
	ver := strings.TrimSuffix(trimmed, suffix)
	if ver == trimmed || ver == "" {
		return nil, fmt.Errorf("cannot parse version from %s", filepath.Base(newest))
	}

	sidecar := newest + ".b3"
	if !fileExists(sidecar) {
		if sidecar, err = writeChecksumSidecar(newest); err != nil {
			return nil, err
		}
	}

	return &PackageDescriptor{
		PkgPath:       filepath.Join(PackagesDir, canonical),
		VersionedPath: newest,
		Sidecar:       sidecar,
		Version:       ver,
		Arch:          spec.Arch,
		Channel:       channel,
		Depends:       runtimeDepends(spec.Mode),
	}, nil
}

// handleChecksumCommand downloads every dependency source and records (or
// verifies) its checksum.
func handleChecksumCommand(ctx context.Context) error {
	for _, dep := range dependencyList {
		tarball := filepath.Join(SourcesDir, filepath.Base(dep.URL))
		if err := downloadFile(ctx, dep.URL, tarball, downloadOptions{}); err != nil {
			return fmt.Errorf("fetching %s: %w", dep.Name, err)
		}
		if err := verifySourceChecksum(dep.Name, tarball); err != nil {
			return err
		}
		colArrow.Print("-> ")
		colSuccess.Printf("%s %s OK\n", dep.Name, dep.Version)
	}
	return nil
}

func handleCleanCommand() error {
	for _, dir := range []string{StagingDir, WorkDir, OutputDir} {
		colArrow.Print("-> ")
		colSuccess.Printf("Removing %s\n", dir)
		if err := os.RemoveAll(dir); err != nil {
			// Build trees can contain root-owned files from dpkg staging.
			rmCmd := exec.Command("rm", "-rf", dir)
			if err2 := RootExec.Run(rmCmd); err2 != nil {
				return fmt.Errorf("failed to remove %s: %v (fallback also failed: %v)", dir, err, err2)
			}
		}
	}
	return nil
}

func printDependencySet(ds DependencySet) {
	names := make([]string, 0, len(ds))
	for name := range ds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := ds[name]
		cPrintf(colInfo, "  %-14s %-10s %-18s %s\n", dep.Name, dep.Version, dep.Mode, dep.Location)
	}
}

// pageRunLog shows the newest log for a selector through $PAGER.
func pageRunLog(selector string) int {
	matches, _ := filepath.Glob(filepath.Join(LogDir, selector+"-*.log*"))
	if len(matches) == 0 {
		fmt.Fprintf(os.Stderr, "No logs found for %s\n", selector)
		return 1
	}
	sort.Strings(matches)
	path := matches[len(matches)-1]

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer f.Close()

	var rdr io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating xz reader: %v\n", err)
			return 1
		}
		rdr = xr
	}

	pager := os.Getenv("PAGER")
	var args []string
	if pager == "" || pager == "less" {
		pager = "less"
		args = []string{"-r"}
	}

	cmd := exec.Command(pager, args...)
	cmd.Stdin = rdr
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// Fallback to plain stdout if the pager fails.
		f.Seek(0, 0)
		rdr = f
		if strings.HasSuffix(path, ".xz") {
			if xr, err := xz.NewReader(f); err == nil {
				rdr = xr
			}
		}
		io.Copy(os.Stdout, rdr)
	}
	return 0
}
