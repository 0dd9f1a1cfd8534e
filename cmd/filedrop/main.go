package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"filedrop/internal/cache"
	"filedrop/internal/client"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		server   string
		password string
		c        *client.Client
	)

	root := &cobra.Command{
		Use:           "filedrop",
		Short:         "Upload, list and download files on a filedrop server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := client.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.Server = server
			}
			if cmd.Flags().Changed("password") {
				cfg.Password = password
			}

			c = client.New(cfg.Server, cfg.Password, listCache(cfg.CacheTTL))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&server, "server", "", "server base URL (default $FILEDROP_SERVER)")
	root.PersistentFlags().StringVar(&password, "password", "", "upload password (default $FILEDROP_PASSWORD)")

	var refresh bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded files, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			files, err := c.List(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), files)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the local listing cache")

	uploadCmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files; directories are zipped first",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := client.ParseUploadArgs(args)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if err := uploadOne(cmd.Context(), c, p, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var output string
	downloadCmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a file by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return downloadOne(cmd.Context(), c, args[0], output, cmd.OutOrStdout())
		},
	}
	downloadCmd.Flags().StringVarP(&output, "output", "o", "", "destination file or directory (default: server filename in the current directory)")

	root.AddCommand(listCmd, uploadCmd, downloadCmd)
	return root
}

// listCache returns the CLI's file cache, or nil when no cache directory is available.
func listCache(ttl time.Duration) cache.Cache[[]client.FileInfo] {
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil
	}
	return cache.NewFile[[]client.FileInfo](filepath.Join(dir, "filedrop", "files.json"), ttl)
}

func uploadOne(ctx context.Context, c *client.Client, p client.UploadPath, out io.Writer) error {
	body, err := p.Open()
	if err != nil {
		return err
	}
	defer body.Close()

	contentType := ""
	if p.Kind == client.PathDir {
		contentType = "application/zip"
	}

	info, err := c.Upload(ctx, p.UploadName(), contentType, body)
	if err != nil {
		return fmt.Errorf("upload %s: %w", p.FullPath, err)
	}
	fmt.Fprintf(out, "✓ Uploaded %s (%d bytes) id=%s\n", info.Name, info.Size, info.ID)
	return nil
}

func downloadOne(ctx context.Context, c *client.Client, id, output string, out io.Writer) error {
	dl, err := c.Download(ctx, id)
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	dest := dl.Filename
	if output != "" {
		dest = output
		if info, err := os.Stat(output); err == nil && info.IsDir() {
			dest = filepath.Join(output, dl.Filename)
		}
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists", dest)
		}
		return err
	}

	n, err := io.Copy(f, dl.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	fmt.Fprintf(out, "✓ Saved %s (%d bytes)\n", dest, n)
	return nil
}

func printFiles(out io.Writer, files []client.FileInfo) {
	if len(files) == 0 {
		fmt.Fprintln(out, "No files uploaded yet.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tTYPE\tUPLOADED\tDOWNLOADS")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\n",
			f.ID, f.Name, f.Size, f.Type, f.UploadDate.Local().Format(time.DateTime), f.Downloads)
	}
	tw.Flush()
}
