package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haivivi/memrecall/pkg/cli"
	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/kv"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/recall"
)

// storeDir returns the Badger directory of ctx.
func storeDir(ctx *cli.Context) (string, error) {
	if ctx.StoreDir != "" {
		return ctx.StoreDir, nil
	}
	p, err := cli.NewPaths(appName)
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return p.StoreDir(ctx.Name), nil
}

// openStore opens the conversation store of ctx. The caller closes the
// returned kv store.
func openStore(ctx *cli.Context) (*memory.KVStore, *kv.Badger, error) {
	dir, err := storeDir(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: slog.Default()})
	if err != nil {
		return nil, nil, err
	}
	printVerbose("store: %s", dir)
	return memory.NewKVStore(db, 0), db, nil
}

// newEmbedder creates the embedder of ctx.
func newEmbedder(c context.Context, ctx *cli.Context) (embed.Embedder, error) {
	e, err := cli.NewEmbedder(c, ctx.Embedding)
	if err != nil {
		return nil, err
	}
	printVerbose("embedder: %s", e.Fingerprint())
	return e, nil
}

// recallConfig loads the recall tuning of ctx, overridden by path when
// set.
func recallConfig(ctx *cli.Context, path string) (recall.Config, error) {
	if path == "" {
		path = ctx.RecallConfig
	}
	if path == "" {
		return recall.DefaultConfig(), nil
	}
	printVerbose("recall config: %s", path)
	return recall.LoadConfig(path)
}

// loadFixture loads the -f fixture.
func loadFixture() (*cli.Fixture, error) {
	if err := requireInputFile(); err != nil {
		return nil, err
	}
	return cli.LoadFixture(inputFile)
}
