package nvdeb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
)

type logInfo struct {
	path     string
	selector string
	content  string
	active   bool // still being written (no .xz sibling, recent mtime)
}

var (
	tuiApp        *tview.Application
	tuiLogs       []logInfo
	tuiActiveIdx  int
	tuiHeaderBox  *tview.TextView
	tuiLogView    *tview.TextView
	tuiFooterBox  *tview.TextView
	tuiFlex       *tview.Flex
	tuiUpdateChan chan []logInfo
)

// readAllRunLogs loads every pipeline run log under LogDir, newest first.
// Compressed (finished) logs are decompressed for viewing.
func readAllRunLogs() []logInfo {
	entries, err := os.ReadDir(LogDir)
	if err != nil {
		return nil
	}

	var logs []logInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(LogDir, name)

		var content string
		var active bool
		switch {
		case strings.HasSuffix(name, ".log"):
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			content = string(data)
			if info, err := e.Info(); err == nil {
				active = time.Since(info.ModTime()) < 30*time.Second
			}
		case strings.HasSuffix(name, ".log.xz"):
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			xr, err := xz.NewReader(f)
			if err != nil {
				f.Close()
				continue
			}
			data, err := io.ReadAll(xr)
			f.Close()
			if err != nil {
				continue
			}
			content = string(data)
		default:
			continue
		}

		selector := strings.SplitN(name, "-", 2)[0]
		logs = append(logs, logInfo{
			path:     path,
			selector: selector,
			content:  content,
			active:   active,
		})
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].path > logs[j].path })
	return logs
}

func updateTUI() {
	if len(tuiLogs) == 0 {
		tuiHeaderBox.SetText("No pipeline logs found")
		tuiLogView.SetText("")
		tuiFooterBox.SetText("q: quit")
		return
	}
	if tuiActiveIdx >= len(tuiLogs) {
		tuiActiveIdx = len(tuiLogs) - 1
	}

	// Header: one tab per log, the active one highlighted.
	var tabs []string
	for i, l := range tuiLogs {
		label := filepath.Base(l.path)
		if l.active {
			label += " [running]"
		}
		if i == tuiActiveIdx {
			tabs = append(tabs, fmt.Sprintf("[black:yellow] %s [-:-]", label))
		} else {
			tabs = append(tabs, fmt.Sprintf(" %s ", label))
		}
	}
	tuiHeaderBox.SetText(strings.Join(tabs, "|"))

	cur := tuiLogs[tuiActiveIdx]
	tuiLogView.SetText(tview.TranslateANSI(cur.content))
	if cur.active {
		tuiLogView.ScrollToEnd()
	}

	tuiFooterBox.SetText("←/→ or h/l: switch log | ↑/↓ PgUp/PgDn: scroll | Home/End: jump | q/Esc: quit")
}

// runTUI starts the pipeline log viewer. Returns a process exit code.
func runTUI() int {
	tuiUpdateChan = make(chan []logInfo, 10)

	tuiApp = tview.NewApplication()

	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle("nvdeb Pipeline Log Viewer")

	// SetDynamicColors(true) enables ANSI color support in the log pane.
	tuiLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			tuiApp.Draw()
		})
	tuiLogView.SetBorder(true)

	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)

	tuiFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 3, 0, false).
		AddItem(tuiLogView, 0, 1, true).
		AddItem(tuiFooterBox, 3, 0, false)

	tuiFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyLeft:
			switchLog(-1)
			return nil
		case tcell.KeyRight:
			switchLog(1)
			return nil
		case tcell.KeyHome:
			tuiLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiLogView.ScrollToEnd()
			return nil
		case tcell.KeyUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 0 {
				tuiLogView.ScrollTo(row-1, 0)
			}
			return nil
		case tcell.KeyDown:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+1, 0)
			return nil
		case tcell.KeyPgUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 10 {
				tuiLogView.ScrollTo(row-10, 0)
			} else {
				tuiLogView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'h':
				switchLog(-1)
				return nil
			case 'l':
				switchLog(1)
				return nil
			}
		}
		return event
	})

	// Poll the log directory; running logs keep growing.
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			logs := readAllRunLogs()
			select {
			case tuiUpdateChan <- logs:
			default:
			}
		}
	}()

	go func() {
		for logs := range tuiUpdateChan {
			// Keep focus on the log we were viewing when the list changes.
			var currentPath string
			if tuiActiveIdx < len(tuiLogs) {
				currentPath = tuiLogs[tuiActiveIdx].path
			}
			tuiLogs = logs
			if currentPath != "" {
				for i, l := range tuiLogs {
					if l.path == currentPath {
						tuiActiveIdx = i
						break
					}
				}
			}
			tuiApp.QueueUpdateDraw(updateTUI)
		}
	}()

	tuiLogs = readAllRunLogs()
	updateTUI()

	tuiApp.SetRoot(tuiFlex, true).SetFocus(tuiLogView)
	if err := tuiApp.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func switchLog(delta int) {
	if len(tuiLogs) == 0 {
		return
	}
	tuiActiveIdx = (tuiActiveIdx + delta + len(tuiLogs)) % len(tuiLogs)
	updateTUI()
}
