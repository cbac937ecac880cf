package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go.modpipe.dev/modpipe/internal/cmd"
	"go.modpipe.dev/modpipe/internal/pipeline"
)

func getCacheCmd(gs *cmd.GlobalState) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the HTTP and compile caches (C2/C3/C5)",
	}
	var cacheRootFlag string
	cacheCmd.PersistentFlags().StringVar(&cacheRootFlag, "cache-root", "", "cache directory (default: OS cache dir)")

	cacheCmd.AddCommand(
		getCacheInfoCmd(gs, &cacheRootFlag),
		getCacheCleanCmd(gs, &cacheRootFlag),
	)
	return cacheCmd
}

func getCacheInfoCmd(gs *cmd.GlobalState, cacheRootFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the cache directory, file count, and total size on disk",
		RunE: func(c *cobra.Command, args []string) error {
			root, err := pipeline.CacheRootOrDefault(*cacheRootFlag)
			if err != nil {
				return err
			}

			files, size, err := walkCache(gs.FS, root)
			if err != nil {
				return err
			}

			fmt.Fprintf(gs.Stdout, "cache root: %s\n", root)
			fmt.Fprintf(gs.Stdout, "entries:    %d\n", files)
			fmt.Fprintf(gs.Stdout, "size:       %d bytes\n", size)
			return nil
		},
	}
}

func getCacheCleanCmd(gs *cmd.GlobalState, cacheRootFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete every entry under the cache directory",
		RunE: func(c *cobra.Command, args []string) error {
			root, err := pipeline.CacheRootOrDefault(*cacheRootFlag)
			if err != nil {
				return err
			}
			if err := gs.FS.RemoveAll(root); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("cmd: clearing cache %s: %w", root, err)
			}
			fmt.Fprintf(gs.Stdout, "removed %s\n", root)
			return nil
		},
	}
}

func walkCache(fs afero.Fs, root string) (files int, size int64, err error) {
	exists, err := afero.DirExists(fs, root)
	if err != nil || !exists {
		return 0, 0, err
	}
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size, err
}
