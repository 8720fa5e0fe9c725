//go:build !windows

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/sahilm/fuzzy"

	"github.com/trellico/trellico/internal/config"
	"github.com/trellico/trellico/internal/events"
	"github.com/trellico/trellico/internal/logging"
	"github.com/trellico/trellico/internal/platform"
	"github.com/trellico/trellico/internal/provider"
	"github.com/trellico/trellico/internal/statedb"
	"github.com/trellico/trellico/internal/supervisor"
	"github.com/trellico/trellico/internal/ui"
	"github.com/trellico/trellico/internal/watch"
	"github.com/trellico/trellico/internal/web"
	"github.com/trellico/trellico/internal/workspace"
)

const Version = "0.3.0"

func init() {
	ui.InitColorProfile()
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("Trellico v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "run":
		handleRun(args[1:])
	case "stop":
		handleStop(args[1:])
	case "watch":
		handleWatch(args[1:])
	case "plans":
		handlePlans(args[1:])
	case "prds":
		handlePRDs(args[1:])
	case "sessions":
		handleSessions(args[1:])
	case "ralph":
		handleRalph(args[1:])
	case "doctor":
		handleDoctor(args[1:])
	case "web":
		handleWeb(args[1:])
	case "setup":
		handleSetup(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("Trellico v%s\n", Version)
	fmt.Println("Drive interactive CLI AI agents against a working folder")
	fmt.Println()
	fmt.Println("Usage: trellico <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <message>    Start the provider and stream its output")
	fmt.Println("  stop [id]        Stop a process on a running 'trellico web' instance")
	fmt.Println("  watch            Watch a folder's plans and PRDs for changes")
	fmt.Println("  plans            List or read plan files")
	fmt.Println("  prds             List Ralph PRDs and their iterations")
	fmt.Println("  sessions         List recorded sessions for a folder")
	fmt.Println("  ralph <prd>      Run the iteration loop against a PRD")
	fmt.Println("  doctor           Check provider availability and platform support")
	fmt.Println("  web              Serve the event feed (WebSocket + status API)")
	fmt.Println("  setup            Create the .trellico folder layout and config")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Run 'trellico <command> -h' for command options.")
}

// initLogging wires the log settings from config.toml into the logger.
// CLI commands log to ~/.trellico; a missing config means defaults.
func initLogging(debug bool) {
	settings := config.LogSettingsWithDefaults()
	logDir, err := config.TrellicoDir()
	if err != nil {
		logDir = ""
	}
	logging.Init(logging.Config{
		LogDir:                logDir,
		Level:                 settings.Level,
		Format:                settings.Format,
		MaxSizeMB:             settings.MaxSizeMB,
		MaxBackups:            settings.MaxBackups,
		MaxAgeDays:            settings.MaxAgeDays,
		Compress:              settings.GetCompress(),
		RingBufferSize:        settings.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: settings.AggregateIntervalS,
		PprofEnabled:          settings.PprofEnabled,
		Debug:                 debug,
	})
}

// resolveFolder turns a -folder flag value into an absolute path.
func resolveFolder(folder string) string {
	if folder == "" {
		folder = "."
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return folder
	}
	return abs
}

// resolveProvider picks the provider for a folder: explicit flag first,
// then the folder's stored setting, then the config default.
func resolveProvider(flagValue, folder string) provider.Provider {
	if flagValue != "" {
		p, err := provider.Parse(flagValue)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return p
	}

	if dbPath, err := statedb.DefaultPath(); err == nil {
		if db, err := statedb.Open(dbPath); err == nil {
			defer db.Close()
			if err := db.Migrate(); err == nil {
				if p, err := db.FolderProvider(folder); err == nil {
					return p
				}
			}
		}
	}
	return config.DefaultProvider()
}

// initTheme applies the configured theme and returns a watcher when the
// theme follows the OS ("system"). Caller must Close a non-nil watcher.
func initTheme(ctx context.Context) *ui.ThemeWatcher {
	ui.InitTheme(config.ResolveTheme())
	if config.Theme() != "system" {
		return nil
	}
	return ui.NewThemeWatcher(ctx)
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Working folder (default: current directory)")
	providerFlag := fs.String("provider", "", "Provider: claude_code or amp")
	resume := fs.String("resume", "", "Resume an existing provider session by ID")
	planFlag := fs.String("plan", "", "Use a plan file as the message and link the session to it")
	plain := fs.Bool("plain", false, "Print raw output instead of the viewer")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Println("Usage: trellico run [options] <message>")
		fmt.Println()
		fmt.Println("Start the provider in the folder and stream its output.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  trellico run \"fix the failing tests\"")
		fmt.Println("  trellico run -provider amp -folder ~/proj \"add a README\"")
		fmt.Println("  trellico run -resume abc123 \"continue\"")
		fmt.Println("  trellico run -plan refactor-login")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 && *planFlag == "" {
		fs.Usage()
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)
	prov := resolveProvider(*providerFlag, folder)

	message := strings.Join(fs.Args(), " ")
	if message == "" {
		content, err := workspace.ReadPlan(folder, *planFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		message = content
	}

	initLogging(*debug)
	defer logging.Shutdown()

	if !platform.SupportsPTY() {
		fmt.Fprintln(os.Stderr, "Error: this platform cannot run provider processes (no PTY support)")
		os.Exit(1)
	}

	bus := events.NewBus()
	registry := supervisor.New(provider.Registry{}, bus)
	sub, cancel := bus.Subscribe(256)
	defer cancel()

	db := tryOpenStateDB()
	if db != nil {
		defer db.Close()
	}

	id, err := registry.Start(string(prov), message, folder, *resume)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if db != nil {
		if err := db.CreateSession(id, folder, string(prov)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			if err := db.SetSessionDisplayName(id, sessionTitle(message)); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			if *planFlag != "" {
				if err := db.SaveSessionLink(folder, id, *planFlag, statedb.LinkTypePlan); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
				}
			}
		}
	}
	sub = recordedEvents(db, id, sub)

	if *plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		runPlain(registry, sub, id)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	tw := initTheme(ctx)
	if tw != nil {
		defer tw.Close()
	}

	err = ui.RunStream(ui.StreamOptions{
		Title:        fmt.Sprintf("%s @ %s", prov.DisplayName(), folder),
		Events:       sub,
		OnQuit:       func() { registry.Stop(id) },
		ThemeWatcher: tw,
	})
	registry.Stop(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runPlain streams events as plain text until the process terminates.
// Ctrl+C requests cancellation and waits for the terminal event.
func runPlain(registry *supervisor.Registry, sub <-chan events.Event, id string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			registry.Stop(id)
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch p := ev.Payload.(type) {
			case events.Output:
				if p.ProcessID == id {
					fmt.Print(p.Data)
				}
			case events.Exit:
				if p.ProcessID != id {
					continue
				}
				if p.Code != 0 {
					fmt.Fprintf(os.Stderr, "\nprocess exited (code %d)\n", p.Code)
					os.Exit(1)
				}
				return
			case events.ProcessError:
				if p.ProcessID != id {
					continue
				}
				fmt.Fprintf(os.Stderr, "\nError: %s\n", p.Error)
				os.Exit(1)
			}
		}
	}
}

func handleStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	addr := fs.String("addr", "", "Address of the web instance (default: from config)")
	token := fs.String("token", "", "Auth token (default: from config)")

	fs.Usage = func() {
		fmt.Println("Usage: trellico stop [options] [process-id]")
		fmt.Println()
		fmt.Println("Stop one process (or all, with no id) on a running 'trellico web' instance.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	settings := config.WebSettingsWithDefaults()
	if *addr == "" {
		*addr = settings.ListenAddr
	}
	if *token == "" {
		*token = settings.Token
	}

	body, _ := json.Marshal(map[string]string{"id": fs.Arg(0)})
	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("http://%s/api/stop", *addr), bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no web instance reachable at %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: stop request failed (HTTP %d)\n", resp.StatusCode)
		os.Exit(1)
	}
	if id := fs.Arg(0); id != "" {
		fmt.Printf("Stopped %s\n", id)
	} else {
		fmt.Println("Stopped all processes")
	}
}

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder to watch (default: current directory)")
	plain := fs.Bool("plain", false, "Print events as lines instead of the viewer")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Println("Usage: trellico watch [options]")
		fmt.Println()
		fmt.Println("Watch a folder's plan files and Ralph PRDs, printing classified changes.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)

	initLogging(*debug)
	defer logging.Shutdown()

	if warning := platform.WatchSupportWarning(folder); warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	bus := events.NewBus()
	registry := watch.NewRegistry(bus)
	sub, cancel := bus.Subscribe(256)
	defer cancel()

	if db := tryOpenStateDB(); db != nil {
		defer db.Close()
		stopFollow := followPlanRenames(db, bus)
		defer stopFollow()
	}

	if err := registry.Watch(folder, watch.KindPlans); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := registry.Watch(folder, watch.KindPRDs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := registry.WatchIterations(folder); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		watchPlain(registry, sub, folder)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	tw := initTheme(ctx)
	if tw != nil {
		defer tw.Close()
	}

	err := ui.RunStream(ui.StreamOptions{
		Title:        "watch " + folder,
		Events:       sub,
		OnQuit:       func() { registry.StopWatching(folder) },
		ThemeWatcher: tw,
	})
	registry.StopWatching(folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func watchPlain(registry *watch.Registry, sub <-chan events.Event, folder string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", folder)
	for {
		select {
		case <-sigCh:
			registry.StopWatching(folder)
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch p := ev.Payload.(type) {
			case events.PlanChange:
				if p.ChangeType == events.ChangeRenamed {
					fmt.Printf("%s  %s  %s -> %s\n",
						time.Now().Format("15:04:05"), p.ChangeType, p.OldFileName, p.FileName)
				} else {
					fmt.Printf("%s  %s  %s\n",
						time.Now().Format("15:04:05"), p.ChangeType, p.FileName)
				}
			case events.FolderRef:
				fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), ev.Name)
			}
		}
	}
}

func handlePlans(args []string) {
	fs := flag.NewFlagSet("plans", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder (default: current directory)")
	filter := fs.String("filter", "", "Fuzzy-filter plan names")
	read := fs.String("read", "", "Print the content of one plan")

	fs.Usage = func() {
		fmt.Println("Usage: trellico plans [options]")
		fmt.Println()
		fmt.Println("List plan files under <folder>/.trellico/plans.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  trellico plans")
		fmt.Println("  trellico plans -filter auth")
		fmt.Println("  trellico plans -read refactor-login")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)

	if *read != "" {
		content, err := workspace.ReadPlan(folder, *read)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(content)
		return
	}

	plans, err := workspace.ListPlans(folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *filter != "" {
		matches := fuzzy.Find(*filter, plans)
		filtered := make([]string, len(matches))
		for i, m := range matches {
			filtered[i] = plans[m.Index]
		}
		plans = filtered
	}
	if len(plans) == 0 {
		fmt.Println("No plans found.")
		return
	}

	db := tryOpenStateDB()
	if db != nil {
		defer db.Close()
	}
	for _, name := range plans {
		if db != nil {
			if link, err := db.LinkByPlan(folder, name); err == nil && link != nil {
				fmt.Printf("%s  session=%s\n", name, link.SessionID)
				continue
			}
		}
		fmt.Println(name)
	}
}

func handlePRDs(args []string) {
	fs := flag.NewFlagSet("prds", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder (default: current directory)")
	reset := fs.String("reset", "", "Forget a PRD's iteration records so the loop starts over")

	fs.Usage = func() {
		fmt.Println("Usage: trellico prds [options]")
		fmt.Println()
		fmt.Println("List Ralph PRDs and their recorded iterations.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)

	if *reset != "" {
		db := openStateDB()
		defer db.Close()
		if err := db.DeletePRDIterations(folder, *reset); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := workspace.DeleteIterations(folder, *reset); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reset iterations for %s\n", *reset)
		return
	}

	prds, err := workspace.ListPRDs(folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(prds) == 0 {
		fmt.Println("No PRDs found.")
		return
	}

	db := tryOpenStateDB()
	if db != nil {
		defer db.Close()
	}

	iterations := workspace.AllIterations(folder)
	for _, name := range prds {
		iters := iterations[name]
		header := fmt.Sprintf("%s  (%d iterations)", name, len(iters))
		if db != nil {
			if link, err := db.LinkByPRD(folder, name); err == nil && link != nil {
				header += fmt.Sprintf("  session=%s", link.SessionID)
			}
		}
		fmt.Println(header)
		for _, it := range iters {
			session := it.SessionID
			if session == "" {
				session = "-"
			}
			fmt.Printf("  #%d  %-10s  session=%s\n", it.IterationNumber, it.Status, session)
		}
	}
}

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder (default: current directory)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	show := fs.String("show", "", "Replay the stored output of one session")
	del := fs.String("delete", "", "Delete a session and its messages")

	fs.Usage = func() {
		fmt.Println("Usage: trellico sessions [options]")
		fmt.Println()
		fmt.Println("List recorded provider sessions for a folder.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  trellico sessions")
		fmt.Println("  trellico sessions -show 6f1c...")
		fmt.Println("  trellico sessions -delete 6f1c...")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)

	db := openStateDB()
	defer db.Close()

	if *show != "" {
		showSession(db, *show)
		return
	}
	if *del != "" {
		if err := db.DeleteSession(*del); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted session %s\n", *del)
		return
	}

	sessions, err := db.FolderSessions(folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded for this folder.")
		return
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sessions); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	for _, s := range sessions {
		plan := s.LinkedPlan
		if plan == "" {
			plan = "-"
		}
		fmt.Printf("%s  %-12s  %s  plan=%s\n", s.ID, s.Provider, s.CreatedAt, plan)
	}
}

// showSession replays a session's stored messages. Output chunks are
// printed as-is so the replay reads like the original stream; anything
// else is dumped as raw JSON.
func showSession(db *statedb.StateDB, sessionID string) {
	sess, err := db.Session(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if sess == nil {
		fmt.Fprintf(os.Stderr, "Error: unknown session %q\n", sessionID)
		os.Exit(1)
	}
	name := sess.DisplayName
	if name == "" {
		name = sess.ID
	}
	fmt.Printf("=== %s  (%s, %s) ===\n", name, sess.Provider, sess.CreatedAt.Format(time.RFC3339))

	messages, err := db.SessionMessages(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(messages) == 0 {
		fmt.Println("No messages recorded for this session.")
		return
	}
	for _, m := range messages {
		var chunk string
		if json.Unmarshal(m, &chunk) == nil {
			fmt.Print(chunk)
			continue
		}
		fmt.Println(string(m))
	}
	fmt.Println()
}

// openStateDB opens and migrates the state database, exiting on failure.
func openStateDB() *statedb.StateDB {
	dbPath, err := statedb.DefaultPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	db, err := statedb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return db
}

// tryOpenStateDB opens the state database for best-effort bookkeeping.
// Commands that can do their job without it warn and carry on with a nil DB.
func tryOpenStateDB() *statedb.StateDB {
	dbPath, err := statedb.DefaultPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	db, err := statedb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	return db
}

// sessionTitle derives a short display name from the first message.
func sessionTitle(message string) string {
	title := strings.TrimSpace(message)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > 60 {
		title = string(runes[:57]) + "..."
	}
	return title
}

// recordedEvents tees the event stream into the session store so a
// conversation survives the process. Everything is forwarded unchanged;
// with a nil DB the stream passes through untouched.
func recordedEvents(db *statedb.StateDB, sessionID string, sub <-chan events.Event) <-chan events.Event {
	if db == nil {
		return sub
	}
	out := make(chan events.Event, 256)
	go func() {
		defer close(out)
		seq, err := db.NextSequence(sessionID)
		if err != nil {
			seq = 1
		}
		for ev := range sub {
			switch p := ev.Payload.(type) {
			case events.Output:
				if p.ProcessID == sessionID {
					if data, err := json.Marshal(p.Data); err == nil {
						if db.SaveMessage(sessionID, seq, "output", string(data)) == nil {
							seq++
						}
					}
				}
			case events.Exit:
				if p.ProcessID == sessionID {
					if data, err := json.Marshal(p.Code); err == nil {
						if db.SaveMessage(sessionID, seq, "exit", string(data)) == nil {
							seq++
						}
					}
				}
			}
			out <- ev
		}
	}()
	return out
}

// followPlanRenames keeps plan links pointing at renamed files. Returns the
// subscription's cancel func.
func followPlanRenames(db *statedb.StateDB, bus *events.Bus) func() {
	sub, cancel := bus.Subscribe(64)
	go func() {
		for ev := range sub {
			p, ok := ev.Payload.(events.PlanChange)
			if !ok || p.ChangeType != events.ChangeRenamed {
				continue
			}
			if err := db.UpdatePlanLinkFileName(p.FolderPath, p.OldFileName, p.FileName); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}()
	return cancel
}

func handleRalph(args []string) {
	fs := flag.NewFlagSet("ralph", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder (default: current directory)")
	providerFlag := fs.String("provider", "", "Provider: claude_code or amp")
	maxFlag := fs.Int("max", 0, "Iteration cap (default: from config)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Println("Usage: trellico ralph [options] <prd-name>")
		fmt.Println()
		fmt.Println("Run the provider repeatedly against a PRD until it exits cleanly")
		fmt.Println("or the iteration cap is reached. Each iteration is recorded in the")
		fmt.Println("folder's iterations file and the state database.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	prdName := fs.Arg(0)
	folder := resolveFolder(*folderFlag)
	prov := resolveProvider(*providerFlag, folder)

	initLogging(*debug)
	defer logging.Shutdown()

	prd, err := workspace.ReadPRD(folder, prdName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	maxIterations := *maxFlag
	if maxIterations <= 0 {
		cfg, _ := config.LoadUserConfig()
		maxIterations = cfg.Ralph.GetMaxIterations()
	}

	db := openStateDB()
	defer db.Close()

	done := len(workspace.Iterations(folder, prdName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	bus := events.NewBus()
	registry := supervisor.New(provider.Registry{}, bus)

	for n := done + 1; n <= maxIterations; n++ {
		fmt.Printf("=== iteration %d/%d ===\n", n, maxIterations)
		recordIteration(db, folder, prdName, n, workspace.IterationRunning, "")

		sub, cancel := bus.Subscribe(256)
		id, err := registry.Start(string(prov), prd, folder, "")
		if err != nil {
			cancel()
			recordIteration(db, folder, prdName, n, workspace.IterationStopped, "")
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := db.CreateSession(id, folder, string(prov)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			if err := db.SetSessionDisplayName(id, fmt.Sprintf("%s #%d", prdName, n)); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			if err := db.SaveSessionLink(folder, id, prdName, statedb.LinkTypePRD); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		if err := db.UpdateIterationSessionID(folder, prdName, n, id); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}

		code, runErr := drainIteration(registry, recordedEvents(db, id, sub), sigCh, id)
		cancel()

		switch {
		case runErr != nil:
			recordIteration(db, folder, prdName, n, workspace.IterationStopped, id)
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		case code != 0:
			recordIteration(db, folder, prdName, n, workspace.IterationStopped, id)
			fmt.Fprintf(os.Stderr, "Iteration %d exited with code %d, stopping.\n", n, code)
			os.Exit(1)
		default:
			recordIteration(db, folder, prdName, n, workspace.IterationCompleted, id)
		}
	}
	fmt.Println("Ralph loop finished.")
}

// recordIteration writes one iteration state to both stores. The folder's
// iterations file feeds the GUI via the iterations watcher; the database
// is the durable record that startup recovery sweeps. The database upserts
// on (folder, prd, number); the file store needs an explicit append-or-update.
func recordIteration(db *statedb.StateDB, folder, prdName string, n int, status, sessionID string) {
	if err := db.SaveIteration(folder, prdName, n, status); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	known := false
	for _, it := range workspace.Iterations(folder, prdName) {
		if it.IterationNumber == n {
			known = true
			break
		}
	}
	if !known {
		err := workspace.SaveIteration(folder, prdName, workspace.Iteration{
			IterationNumber: n,
			SessionID:       sessionID,
			Status:          status,
			CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		return
	}
	if err := workspace.UpdateIterationStatus(folder, prdName, n, status); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if sessionID != "" {
		if err := workspace.UpdateIterationSessionID(folder, prdName, n, sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

// drainIteration streams output until the process terminates, returning its
// exit code. A signal cancels the process; the loop still waits for the
// terminal event so exactly one outcome is recorded.
func drainIteration(registry *supervisor.Registry, sub <-chan events.Event, sigCh <-chan os.Signal, id string) (int, error) {
	for {
		select {
		case <-sigCh:
			registry.Stop(id)
		case ev, ok := <-sub:
			if !ok {
				return 0, fmt.Errorf("event stream closed")
			}
			switch p := ev.Payload.(type) {
			case events.Output:
				if p.ProcessID == id {
					fmt.Print(p.Data)
				}
			case events.Exit:
				if p.ProcessID == id {
					return p.Code, nil
				}
			case events.ProcessError:
				if p.ProcessID == id {
					return 0, fmt.Errorf("%s", p.Error)
				}
			}
		}
	}
}

func handleDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder to check (default: current directory)")

	fs.Usage = func() {
		fmt.Println("Usage: trellico doctor [options]")
		fmt.Println()
		fmt.Println("Check provider availability, authentication, and platform support.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)

	fmt.Printf("Platform: %s", platform.Detect())
	if platform.IsWSL() {
		fmt.Print(" (WSL)")
	}
	fmt.Println()
	if !platform.SupportsPTY() {
		fmt.Println("  ✕ PTY support missing; 'trellico run' will not work here")
	}
	if warning := platform.WatchSupportWarning(folder); warning != "" {
		fmt.Printf("  ! %s\n", warning)
	}
	fmt.Println()

	if db := tryOpenStateDB(); db != nil {
		dbPath, _ := statedb.DefaultPath()
		fmt.Printf("State DB: %s\n", dbPath)
		if ts, err := db.LastModified(); err == nil && ts > 0 {
			fmt.Printf("  last write %s\n", time.Unix(0, ts).UTC().Format(time.RFC3339))
		}
		db.Close()
		fmt.Println()
	}

	exitCode := 0
	for _, p := range provider.All() {
		status := provider.CheckAvailable(p)
		if status.Available {
			fmt.Printf("  ✓ %s\n", p.DisplayName())
			continue
		}
		exitCode = 1
		fmt.Printf("  ✕ %s: %s\n", p.DisplayName(), status.Error)
		if status.AuthInstructions != "" {
			fmt.Printf("      %s\n", status.AuthInstructions)
		}
	}
	os.Exit(exitCode)
}

func handleWeb(args []string) {
	fs := flag.NewFlagSet("web", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (default: from config)")
	token := fs.String("token", "", "Require this token from clients (default: from config)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Println("Usage: trellico web [options] [folder...]")
		fmt.Println()
		fmt.Println("Serve the event feed: watches the given folders and exposes")
		fmt.Println("  GET  /ws/events   WebSocket event stream")
		fmt.Println("  GET  /api/status  running processes and watched folders")
		fmt.Println("  POST /api/stop    cancel a running process")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	initLogging(*debug)
	defer logging.Shutdown()

	settings := config.WebSettingsWithDefaults()
	if *addr == "" {
		*addr = settings.ListenAddr
	}
	if *token == "" {
		*token = settings.Token
	}

	db := openStateDB()
	defer db.Close()

	bus := events.NewBus()
	runs := supervisor.New(provider.Registry{}, bus)
	watches := watch.NewRegistry(bus)

	stopFollow := followPlanRenames(db, bus)
	defer stopFollow()

	folders := fs.Args()
	sort.Strings(folders)
	for _, f := range folders {
		folder := resolveFolder(f)
		if warning := platform.WatchSupportWarning(folder); warning != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
		for _, kind := range []watch.Kind{watch.KindPlans, watch.KindPRDs} {
			if err := watches.Watch(folder, kind); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		if err := watches.WatchIterations(folder); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	srv := web.NewServer(web.Config{
		ListenAddr:      *addr,
		Token:           *token,
		EventsPerSecond: settings.EventsPerSecond,
		Bus:             bus,
		Runs:            runs,
		Watches:         watches,
		Control:         runs,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Trellico event feed on http://%s (Ctrl+C to stop)\n", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		runs.StopAll()
		for _, f := range folders {
			watches.StopWatching(resolveFolder(f))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleSetup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	folderFlag := fs.String("folder", "", "Folder (default: current directory)")

	fs.Usage = func() {
		fmt.Println("Usage: trellico setup [options]")
		fmt.Println()
		fmt.Println("Create the folder's .trellico layout, the example config, and")
		fmt.Println("initialize the state database.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	folder := resolveFolder(*folderFlag)

	if err := workspace.Setup(folder); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", workspace.MetaDir(folder))

	if err := config.CreateExampleConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else if path, err := config.UserConfigPath(); err == nil {
		fmt.Printf("Config at %s\n", path)
	}

	db := openStateDB()
	db.Close()
	if dbPath, err := statedb.DefaultPath(); err == nil {
		fmt.Printf("State database at %s\n", dbPath)
	}
}
