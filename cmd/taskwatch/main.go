// Command taskwatch watches the file system and runs commands declared in
// a Lua script whenever a matching file changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenforge/taskwatch/internal/config"
	"github.com/lumenforge/taskwatch/internal/dispatch"
	"github.com/lumenforge/taskwatch/internal/historystore"
	"github.com/lumenforge/taskwatch/internal/introspect"
	"github.com/lumenforge/taskwatch/internal/logging"
	"github.com/lumenforge/taskwatch/internal/lockfile"
	"github.com/lumenforge/taskwatch/internal/selfupdate"
	"github.com/lumenforge/taskwatch/internal/supervisor"
	"github.com/lumenforge/taskwatch/internal/taskrun"
	"github.com/lumenforge/taskwatch/pkg/errchain"
)

func main() {
	opts := &config.Options{}

	root := &cobra.Command{
		Use:   "taskwatch",
		Short: "Watches the file system and executes commands from a Lua file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	root.Flags().StringVarP(&opts.ScriptFile, "file", "f", "watcher.lua", "Lua file to use")
	root.Flags().BoolVar(&opts.Update, "update", false, "Update binary in-place from latest release")
	root.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose diagnostic logging")
	root.Flags().StringVar(&opts.HTTPAddr, "http", "", "Loopback address for the introspection API (e.g. 127.0.0.1:4567); disabled if empty")
	root.Flags().StringVar(&opts.RedisAddr, "redis", "", "Redis address for the run-history store; disabled if empty")
	root.Flags().IntVar(&opts.RedisDB, "redis-db", 0, "Redis DB index for the run-history store")
	root.Flags().IntVar(&opts.MaxConcurrentTasks, "max-concurrent-tasks", 0, "Maximum task pipelines running at once (0 = unbounded)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *config.Options) error {
	if opts.Update {
		return selfupdate.Update()
	}

	log, err := logging.New(opts.Verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	var logmgr *taskrun.LogManager
	var introspectSrv *introspect.Server
	if opts.HTTPAddr != "" {
		host, _, err := net.SplitHostPort(opts.HTTPAddr)
		if err != nil {
			return fmt.Errorf("parse --http address: %w", err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("--http address %s is not a loopback address", opts.HTTPAddr)
		}
		logmgr = taskrun.NewLogManager()
		introspectSrv = introspect.New(log, opts.HTTPAddr, logmgr)
		introspectSrv.Start()
		defer introspectSrv.Close()
	}

	var history *historystore.Client
	scriptHash := historystore.HashScriptPath(opts.ScriptFile)
	if opts.RedisAddr != "" {
		history = historystore.NewClient(opts.RedisAddr, opts.RedisDB, log)
		defer history.Close()
	}
	if introspectSrv != nil {
		introspectSrv.SetHistory(history, scriptHash)
	}

	supOpts := supervisor.Options{
		ScriptPath:         opts.ScriptFile,
		Log:                log,
		MaxConcurrentTasks: opts.MaxConcurrentTasks,
		LogManager:         logmgr,
		OnGeneration: func(e *dispatch.Engine, generation int) {
			if introspectSrv != nil {
				introspectSrv.SetEngine(e)
				introspectSrv.SetGeneration(generation)
			}
			if history != nil {
				e.SetCompletionHook(func(taskIndex int, taskName string, startedAt time.Time, duration time.Duration, success bool) {
					// Record off the supervisor thread so a slow or
					// unreachable Redis never delays a dispatch tick.
					go func() {
						ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
						defer cancel()
						history.RecordRun(ctx, scriptHash, historystore.RunRecord{
							TaskIndex: taskIndex,
							TaskName:  taskName,
							StartedAt: startedAt,
							Duration:  duration,
							Success:   success,
						})
					}()
				})
			}
		},
	}

	err = supervisor.Run(supOpts)
	if err != nil {
		var alreadyRunning *lockfile.ErrAlreadyRunning
		if errors.As(err, &alreadyRunning) {
			fmt.Fprintf(os.Stderr, "Another taskwatch is already running for %s. Delete\n\n    %s\n\nif you are sure this is untrue.\n", opts.ScriptFile, alreadyRunning.Path)
			os.Exit(1)
		}
		if opts.Verbose {
			errchain.DumpVerbose(os.Stderr, err)
		} else {
			fmt.Fprintln(os.Stderr, errchain.Sprint(err))
		}
		return err
	}
	return nil
}
