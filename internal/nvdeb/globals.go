package nvdeb

import (
	"runtime"
	"sync/atomic"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	CacheDir    string
	SourcesDir  string
	StagingDir  string
	WorkDir     string
	OutputDir   string
	PackagesDir string
	LogDir      string
	tmpDir      string
	Debug       bool
	Verbose     bool
	ConfigFile  = "/etc/nvdeb.conf"
	version     = "dev" // overridden at build time
	hostArch    = runtime.GOARCH
	buildDate   = "unknown" // overridden at build time
	// Global executors (declared, to be assigned in Main)
	UserExec *Executor
	RootExec *Executor
)

// Product identity. Filenames and release tags are derived from these.
const (
	productName = "nvim"
	neovimRepo  = "https://github.com/neovim/neovim.git"
	githubRepo  = "neovim/neovim"
)

// API base; a var so tests can stand in a local server.
var githubAPIBase = "https://api.github.com"

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
