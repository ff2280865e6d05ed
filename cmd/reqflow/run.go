package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/events"
	"github.com/unkn0wn-root/reqflow/internal/execute"
	"github.com/unkn0wn-root/reqflow/internal/history"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
	"github.com/unkn0wn-root/reqflow/internal/oauth"
	"github.com/unkn0wn-root/reqflow/internal/runner"
	"github.com/unkn0wn-root/reqflow/internal/scripts"
	"github.com/unkn0wn-root/reqflow/internal/telemetry"
	"github.com/unkn0wn-root/reqflow/internal/vars"
)

const oauthStoreFile = "oauth2.db"

type runFlags struct {
	folder    string
	env       string
	recursive bool
	delay     time.Duration
	bail      bool
	testsOnly bool
	vars      map[string]string
	noHistory bool
	jsonOut   bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <collection-dir>",
		Short: "Run the requests of a collection or one of its folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.folder, "folder", "", "Run only the folder with this name or uid")
	fl.StringVarP(&f.env, "env", "e", "", "Environment under environments/ to use")
	fl.BoolVarP(&f.recursive, "recursive", "r", false, "Include requests in nested folders")
	fl.DurationVar(&f.delay, "delay", 0, "Pause between requests")
	fl.BoolVar(&f.bail, "bail", false, "Stop after the first failing request")
	fl.BoolVar(&f.testsOnly, "tests-only", false, "Run only requests that have tests or assertions")
	fl.StringToStringVar(&f.vars, "var", nil, "Runtime variable as name=value (repeatable)")
	fl.BoolVar(&f.noHistory, "no-history", false, "Do not record the run in history")
	fl.BoolVar(&f.jsonOut, "json", false, "Print events as JSON lines")
	return cmd
}

// services are the long-lived collaborators of a run.
type services struct {
	client  *httpclient.Client
	oauth   *oauth.Engine
	history *history.Store
	instr   telemetry.Instrumenter
	closers []func() error
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func (a *app) services(ctx context.Context, withHistory bool) (*services, error) {
	s := &services{client: httpclient.NewClient(&a.log)}

	cfg := telemetry.ConfigFromEnv(os.Getenv)
	cfg.Version = version
	instr, err := telemetry.New(cfg)
	if err != nil {
		a.log.Info("tracing disabled", "error", err.Error())
		instr = telemetry.Noop()
	}
	s.instr = instr
	s.client.SetTelemetry(instr)
	s.closers = append(s.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return instr.Shutdown(shutdownCtx)
	})

	store, err := a.oauthStore(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	s.oauth = oauth.NewEngine(s.client, oauth.WithStore(store), oauth.WithLogger(a.log.WithName("oauth2")))

	if withHistory {
		s.history = history.NewStore(filepath.Join(config.Dir(), history.FileName), a.settings.Request.HistoryEntries)
	}
	return s, nil
}

func (a *app) oauthStore(ctx context.Context) (*oauth.SQLiteStore, error) {
	path := strings.TrimSpace(a.settings.Request.OAuthStorePath)
	if path == "" {
		path = filepath.Join(config.Dir(), oauthStoreFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create token store directory: %w", err)
	}
	return oauth.OpenSQLiteStore(ctx, path)
}

func (a *app) run(ctx context.Context, dir string, f runFlags) error {
	col, err := loadCollection(dir, f.env)
	if err != nil {
		return err
	}
	folder, err := findFolder(col, f.folder)
	if err != nil {
		return err
	}
	dotenv, err := vars.LoadDotEnv(col.Path)
	if err != nil {
		return err
	}

	svc, err := a.services(ctx, !f.noHistory)
	if err != nil {
		return err
	}
	defer svc.close()

	var out events.Sink = &printer{w: a.out}
	if f.jsonOut {
		out = &jsonPrinter{w: a.out}
	}
	sink := events.NewLatest(out)

	orch := execute.New(scripts.NewRunner(&a.log), svc.client, &a.log)
	orch.Sink = sink
	orch.OAuth = svc.oauth
	orch.Settings = a.settings
	orch.Telemetry = svc.instr
	orch.Persist = collection.YAMLStore{}.Save
	if svc.history != nil {
		orch.History = svc.history
	}

	report, err := runner.New(orch, sink, &a.log).Run(ctx, col, folder, runner.Options{
		Recursive:   f.recursive || folder == nil,
		Delay:       f.delay,
		Bail:        f.bail,
		TestsOnly:   f.testsOnly,
		ProcessEnv:  vars.ProcessEnv(dotenv),
		RuntimeVars: f.vars,
	})
	if err != nil {
		return err
	}
	if s := report.Summary; s.Failed > 0 || s.Errored > 0 {
		return errChecksFailed
	}
	return nil
}

func loadCollection(dir, envName string) (*collection.Collection, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve collection path: %w", err)
	}
	col, err := collection.YAMLStore{}.Load(abs)
	if err != nil {
		return nil, err
	}
	if envName != "" {
		env, err := collection.LoadEnvironment(abs, envName)
		if err != nil {
			return nil, err
		}
		col.Environment = env
	}
	return col, nil
}

// findFolder looks a folder up by uid or name. An empty ref means the whole
// collection.
func findFolder(col *collection.Collection, ref string) (*collection.Folder, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var match *collection.Folder
	var walk func(items []*collection.Item)
	walk = func(items []*collection.Item) {
		for _, it := range items {
			if it.Folder == nil || match != nil {
				continue
			}
			if it.Folder.UID == ref || it.Folder.Name == ref {
				match = it.Folder
				return
			}
			walk(it.Folder.Items)
		}
	}
	walk(col.Items)
	if match == nil {
		return nil, fmt.Errorf("folder %q not found in %s", ref, col.Name)
	}
	return match, nil
}
