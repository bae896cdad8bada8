package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/case-review/backend/internal/app"
	"github.com/case-review/backend/internal/storage/mongostore"
	"github.com/case-review/backend/internal/vocabulary"
	"github.com/case-review/backend/pkg/config"
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Inspect and publish the tag vocabulary",
}

var vocabReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Load the vocabulary from the configured source and print it",
	Args:  cobra.NoArgs,
	RunE:  runVocabReload,
}

var vocabPushCmd = &cobra.Command{
	Use:   "push <tags.yaml>",
	Short: "Publish a vocabulary file to the document store",
	Args:  cobra.ExactArgs(1),
	RunE:  runVocabPush,
}

func init() {
	vocabCmd.AddCommand(vocabReloadCmd)
	vocabCmd.AddCommand(vocabPushCmd)
}

func connectMongo(ctx context.Context, cfg *config.Config) (*mongostore.Store, func(), error) {
	client, err := mongostore.Connect(ctx, cfg.Mongo.URI, time.Duration(cfg.Mongo.TimeoutSec)*time.Second)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(ctx)
	}
	return mongostore.NewStore(client.Database(cfg.Mongo.Database)), closeFn, nil
}

func runVocabReload(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var loader vocabulary.Loader
	switch cfg.Vocabulary.Source {
	case app.BackendMongo:
		store, closeFn, err := connectMongo(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		loader = store.VocabularyLoader()
	default:
		loader = vocabulary.FileLoader{Path: cfg.Vocabulary.Path}
	}

	holder := vocabulary.NewHolder(loader)
	if err := holder.Reload(ctx); err != nil {
		return err
	}

	snap := holder.Current()
	fmt.Fprintf(os.Stdout, "source: %s\nopen tags: %d\nclose tags: %d\n", snap.Source, len(snap.OpenTags), len(snap.CloseTags))
	return nil
}

func runVocabPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snap, err := vocabulary.FileLoader{Path: args[0]}.Load(ctx)
	if err != nil {
		return err
	}

	store, closeFn, err := connectMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.SaveVocabulary(ctx, snap.OpenTags, snap.CloseTags); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "published %d open and %d close tags\n", len(snap.OpenTags), len(snap.CloseTags))
	return nil
}
