// Command tgsession interactively logs a user account in and writes a session
// file usable by tg-filestream identities. User sessions allow serving files
// from chats a bot cannot see.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gotd/td/session"
	gotd "github.com/gotd/td/telegram"
	"go.uber.org/zap"

	"tg-filestream/internal/adapter/telegram"
	"tg-filestream/internal/adapter/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		appID      = flag.Int("app-id", 0, "API id (or TGFS_APP_ID)")
		appHash    = flag.String("app-hash", "", "API hash (or TGFS_APP_HASH)")
		sessionDir = flag.String("session-dir", ".tgfs-sessions", "Directory for session files")
		name       = flag.String("name", "user", "Session name (file is <name>.json)")
	)
	flag.Parse()

	if *appID == 0 {
		fmt.Sscanf(os.Getenv("TGFS_APP_ID"), "%d", appID)
	}
	if *appHash == "" {
		*appHash = os.Getenv("TGFS_APP_HASH")
	}
	if *appID == 0 || *appHash == "" {
		return fmt.Errorf("app-id and app-hash are required (flags or TGFS_APP_ID/TGFS_APP_HASH)")
	}

	if err := os.MkdirAll(*sessionDir, 0o700); err != nil {
		return err
	}
	sessionPath := filepath.Join(*sessionDir, *name+".json")

	client := gotd.NewClient(*appID, *appHash, gotd.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
		Logger:         zap.NewNop(),
	})

	console := ui.NewConsoleUI()
	ctx := context.Background()

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		if !status.Authorized {
			if err := client.Auth().IfNecessary(ctx, telegram.NewAuthFlow(console)); err != nil {
				return err
			}
		}

		me, err := client.Self(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (id %d)\nSession written to %s\n",
			me.Username, me.ID, sessionPath)
		return nil
	})
}
