// Command chatcli is a terminal chat client for a PolyChat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"PolyChat/pkg/client"
	"PolyChat/pkg/config"
	"PolyChat/pkg/logger"

	"github.com/peterh/liner"
)

func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "polychat", "chat_history")
}

func main() {
	server := flag.String("server", strings.TrimSpace(os.Getenv("POLYCHAT_URL")), "PolyChat server base URL")
	debug := flag.Bool("debug", false, "log client internals to stderr")
	flag.Parse()
	if *server == "" {
		*server = config.PublicBaseURL
	}
	if *debug {
		if zl, err := logger.Init(false); err == nil {
			defer zl.Sync()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	hist := historyPath()
	if f, err := os.Open(hist); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if err := os.MkdirAll(filepath.Dir(hist), 0o700); err != nil {
			return
		}
		if f, err := os.OpenFile(hist, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	sh := newShell(client.New(*server), os.Stdout, line.PasswordPrompt)
	defer sh.sess.Close()

	fmt.Println(titleStyle.Render("PolyChat") + " " + infoStyle.Render("connected to "+*server+"; /help for commands"))
	for ctx.Err() == nil {
		input, err := line.Prompt(sh.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
			}
			return
		}
		// passwords are read separately and never reach history
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if sh.exec(ctx, input) {
			return
		}
	}
}
