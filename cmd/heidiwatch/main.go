// Package main provides a CLI for starting a remote agent run and watching
// its reconciled transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/heidi-dang/Agents-loop-logic/internal/config"
	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
	"github.com/heidi-dang/Agents-loop-logic/internal/gateway"
	"github.com/heidi-dang/Agents-loop-logic/internal/store"
	"github.com/heidi-dang/Agents-loop-logic/internal/watch"
)

// printer renders transcript snapshots incrementally: each update only
// prints what grew since the last one.
type printer struct {
	mu         sync.Mutex
	printedLen map[string]int // message id -> printed content length
	toolLines  map[string]int // tool id -> printed line count
	toolSeen   map[string]bool
	lastStatus string
}

func newPrinter() *printer {
	return &printer{
		printedLen: make(map[string]int),
		toolLines:  make(map[string]int),
		toolSeen:   make(map[string]bool),
	}
}

func (p *printer) render(tr *domain.Transcript) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range tr.Messages {
		if n := p.printedLen[m.ID]; len(m.Content) > n {
			if n == 0 && m.Role == domain.RoleUser {
				fmt.Printf("> %s\n", m.Content)
			} else {
				fmt.Print(m.Content[n:])
			}
			p.printedLen[m.ID] = len(m.Content)
		}
		for _, tool := range m.Tools {
			if !p.toolSeen[tool.ID] {
				p.toolSeen[tool.ID] = true
				title := tool.Title
				if title == "" {
					title = tool.ID
				}
				fmt.Printf("\n[tool] %s\n", title)
			}
			for _, line := range tool.Lines[p.toolLines[tool.ID]:] {
				fmt.Printf("  | %s\n", line)
			}
			p.toolLines[tool.ID] = len(tool.Lines)
		}
	}
}

func (p *printer) status(status domain.RunStatus, phase domain.RunPhase) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := string(status)
	if phase != "" && status == domain.RunStatusRunning {
		label = fmt.Sprintf("%s (%s)", status, phase)
	}
	if label == p.lastStatus {
		return
	}
	p.lastStatus = label
	log.Printf("status: %s", label)
}

func listHistory(dsn string, limit int) error {
	if dsn == "" {
		return fmt.Errorf("no archive configured (set ARCHIVE_DB or -archive)")
	}
	s, err := store.Open(dsn)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %-12s  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.RunID)
	}
	return nil
}

func main() {
	cfg := config.Load()

	gatewayURL := flag.String("gateway", cfg.GatewayURL, "run backend base URL")
	push := flag.String("push", string(cfg.Push), "push transport: sse or ws")
	loop := flag.Bool("loop", false, "start a plan/execute/audit loop run")
	archivePath := flag.String("archive", cfg.ArchiveDB, "SQLite archive DSN (empty disables archiving)")
	history := flag.Int("history", 0, "list the N most recent archived runs and exit")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *history > 0 {
		if err := listHistory(*archivePath, *history); err != nil {
			log.Fatalf("history failed: %v", err)
		}
		return
	}

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: heidiwatch [flags] <prompt>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg.GatewayURL = *gatewayURL
	cfg.Push = config.PushTransport(*push)

	var archive *store.Store
	if *archivePath != "" {
		var err error
		archive, err = store.Open(*archivePath)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer archive.Close()
	}

	gw := gateway.NewClient(cfg.GatewayURL)
	gw.SetRetryPolicy(cfg.StartRetries, cfg.StartBackoff)

	p := newPrinter()
	w, err := watch.Start(context.Background(), gw, cfg, prompt, watch.Options{
		Loop:     *loop,
		Archive:  archive,
		OnUpdate: p.render,
		OnStatus: p.status,
	})
	if err != nil {
		log.Fatalf("failed to start run: %v", err)
	}
	defer w.Close()

	log.Printf("run started: %s", w.RunID())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	cancelled := false
	for {
		select {
		case <-w.Done():
			status, _ := w.Status()
			fmt.Println()
			log.Printf("run finished: %s", status)
			if status == domain.RunStatusFailed || status == domain.RunStatusDisconnected {
				os.Exit(1)
			}
			return
		case <-interrupt:
			if cancelled {
				fmt.Println("\nForced exit")
				os.Exit(130)
			}
			cancelled = true
			fmt.Println("\nCancelling... (Ctrl-C again to force exit)")
			w.Cancel()
		}
	}
}
