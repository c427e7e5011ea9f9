package cmd

import (
	"fmt"

	"ledger-reconciliation-service/cmd/reconciler/config"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/semantic"
	"ledger-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

func newCacheCmd(c *cli) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the embedding cache",
	}

	var cachePath, backend, model string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached description embeddings",
		Long: `Purge deletes vectors from the SQLite embedding cache. Without --embedder
or --model every entry is removed. With either, only vectors produced by that
embedder are removed: --embedder hashing selects the offline embedder at the
configured embedder.dimensions, and --model selects a Gemini embedding model.

The cache path defaults to embedder.cache_path from the config file or
RECONCILER_EMBEDDER_CACHE_PATH.

Examples:
  reconciler cache purge --cache-path embeddings.db
  reconciler cache purge --cache-path embeddings.db --embedder hashing
  reconciler cache purge --cache-path embeddings.db --model gemini-embedding-001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cachePath
			if path == "" {
				path = c.v.GetString("embedder.cache_path")
			}
			if path == "" {
				return errors.ConfigurationError(errors.CodeMissingConfig, "cache-path", nil,
					fmt.Errorf("no embedding cache configured")).
					WithSuggestion("Pass --cache-path or set embedder.cache_path")
			}
			if err := validateFileExists(path, "embedding cache"); err != nil {
				return err
			}

			var tag string
			if backend != "" || model != "" {
				var err error
				if tag, err = purgeTag(c, backend, model); err != nil {
					return err
				}
			}

			cache, err := semantic.OpenSQLiteCache(path)
			if err != nil {
				return errors.FileError(errors.CodeInvalidFormat, path, err)
			}
			defer cache.Close()

			removed, err := cache.Purge(cmd.Context(), tag)
			if err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "cache_purge", err)
			}

			c.log.WithField("cache", path).WithField("model", tag).WithField("removed", removed).Info("Embedding cache purged")
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached embeddings from %s\n", removed, path)
			return nil
		},
	}
	purgeCmd.Flags().StringVar(&cachePath, "cache-path", "", "SQLite embedding cache file")
	purgeCmd.Flags().StringVar(&backend, "embedder", "", "only purge vectors from this embedder: hashing or gemini")
	purgeCmd.Flags().StringVar(&model, "model", "", "only purge vectors from this Gemini embedding model")

	cacheCmd.AddCommand(purgeCmd)
	return cacheCmd
}

// purgeTag resolves the cache tag for an embedder selection. Unset values come
// from the loaded configuration; a model without a backend implies gemini.
func purgeTag(c *cli, backend, model string) (string, error) {
	cfg, err := config.Load(c.v)
	if err != nil {
		return "", err
	}

	embedder := cfg.Embedder
	switch {
	case backend != "":
		embedder.Backend = backend
	case model != "":
		embedder.Backend = reconciler.EmbedderGemini
	}
	if model != "" {
		embedder.Model = model
	}

	if embedder.Backend != reconciler.EmbedderHashing && embedder.Backend != reconciler.EmbedderGemini {
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "embedder", embedder.Backend,
			fmt.Errorf("unknown embedder %q", embedder.Backend)).
			WithSuggestion("Use --embedder hashing or --embedder gemini")
	}
	return reconciler.CacheModelTag(embedder), nil
}
