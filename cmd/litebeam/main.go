// Copyright 2025 Litebeam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the litebeam command-line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/litebeam/litebeam/litebeam"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:vet // for readability
var cli struct {
	Path     string `required:""        help:"Database file path."                  short:"p"`
	Strategy string `default:"worker"   help:"Execution strategy."                  enum:"worker,direct"`
	Journal  string `default:"wal"      help:"Journal mode."                        enum:"wal,delete,truncate,persist,memory,off"`
	Reads    int    `default:"4"        help:"Maximum read connections."`
	Debug    bool   `default:"false"    help:"Enable debug logging."`

	Exec struct {
		SQL string `arg:"" help:"Statement to execute."`
	} `cmd:"" help:"Execute a statement without a result."`

	Query struct {
		SQL string `arg:"" help:"Query to run."`
	} `cmd:"" help:"Run a query and print its rows."`

	Watch struct {
		SQL string `arg:"" help:"Query to watch."`
	} `cmd:"" help:"Run a live query and print every refresh until interrupted."`

	Version struct{} `cmd:"" help:"Print the stored schema version."`

	Delete struct{} `cmd:"" help:"Delete the database file and all sidecar files."`
}

func main() {
	kctx := kong.Parse(&cli)

	if err := run(kctx.Command()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run dispatches the parsed command.
func run(command string) error {
	if command == "delete" {
		return litebeam.DeleteDatabase(cli.Path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var logger *zap.Logger

	if cli.Debug {
		var err error

		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	db, err := litebeam.Open(ctx, &litebeam.Config{
		Path:               cli.Path,
		Strategy:           cli.Strategy,
		JournalMode:        cli.Journal,
		MaxReadConnections: cli.Reads,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	defer db.Close() //nolint:errcheck // exiting anyway

	switch command {
	case "exec <sql>":
		return db.Execute(ctx, cli.Exec.SQL)

	case "query <sql>":
		rows, err := db.Query(ctx, cli.Query.SQL)
		if err != nil {
			return err
		}

		for _, row := range rows {
			fmt.Println(row)
		}

		return nil

	case "watch <sql>":
		return watch(ctx, db)

	case "version":
		v, err := db.SchemaVersion(ctx)
		if err != nil {
			return err
		}

		fmt.Println(v)

		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// watch prints every live refresh of the query until the context is canceled.
func watch(ctx context.Context, db *litebeam.DB) error {
	sub, err := db.Watch(ctx, cli.Watch.SQL, nil, nil)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		sub.Cancel()

		return nil
	})

	g.Go(func() error {
		for e := range sub.C() {
			if e.Err != nil {
				fmt.Fprintln(os.Stderr, e.Err)
				continue
			}

			for _, row := range e.Rows {
				fmt.Println(row)
			}

			fmt.Println("---")
		}

		return nil
	})

	return g.Wait()
}
