package main

import (
	"fmt"

	"github.com/darshan-rambhia/minisftp"
	"github.com/spf13/cobra"
)

func newPutCmd(opts *globalOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := minisftp.ParseMode(mode)
			if err != nil {
				return err
			}
			return opts.connect(cmd, func(c minisftp.ClientInterface, _ minisftp.Config) error {
				if perm == 0 {
					return c.UploadFile(cmd.Context(), args[0], args[1])
				}
				return c.UploadFileMode(cmd.Context(), args[0], args[1], perm)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "permissions for a newly created remote file, in octal (default: local file's)")
	return cmd
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote> <local>",
		Short: "Download a remote file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.connect(cmd, func(c minisftp.ClientInterface, _ minisftp.Config) error {
				return c.DownloadFile(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newCatCmd(opts *globalOptions) *cobra.Command {
	var (
		maxBytes int64
		binary   bool
	)

	cmd := &cobra.Command{
		Use:   "cat <remote>",
		Short: "Print a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.connect(cmd, func(c minisftp.ClientInterface, _ minisftp.Config) error {
				content, err := c.ReadFileContent(cmd.Context(), args[0], maxBytes)
				if err != nil {
					return err
				}
				if !binary && minisftp.IsBinaryContent(content) {
					return fmt.Errorf("%s looks like a binary file, use --binary to print it anyway", args[0])
				}
				_, err = cmd.OutOrStdout().Write(content)
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "stop after this many bytes (0 means no limit)")
	cmd.Flags().BoolVar(&binary, "binary", false, "print binary content")
	return cmd
}

func newSyncCmd(opts *globalOptions) *cobra.Command {
	var syncOpts minisftp.SyncOptions

	cmd := &cobra.Command{
		Use:   "sync <local> <remote>",
		Short: "Upload a local file if the remote copy differs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := minisftp.ValidateMode(syncOpts.Mode); err != nil {
				return err
			}
			return opts.connect(cmd, func(client minisftp.ClientInterface, c minisftp.Config) error {
				syncer := minisftp.NewSyncerWithClient(client, c.Logger)
				result, err := syncer.SyncFile(cmd.Context(), args[0], args[1], &syncOpts)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				switch {
				case !result.Changed:
					fmt.Fprintf(out, "%s is up to date (%s)\n", result.RemotePath, result.Hash)
				case syncOpts.DryRun:
					fmt.Fprintf(out, "would upload %s to %s (%d bytes)\n", result.LocalPath, result.RemotePath, result.Size)
				default:
					fmt.Fprintf(out, "uploaded %s to %s (%d bytes, %s)\n", result.LocalPath, result.RemotePath, result.Size, result.Hash)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&syncOpts.Mode, "mode", "", "permissions for a newly created remote file, in octal")
	cmd.Flags().BoolVar(&syncOpts.DryRun, "dry-run", false, "only report whether the file would be uploaded")
	cmd.Flags().BoolVar(&syncOpts.Force, "force", false, "upload even when the content matches")
	return cmd
}
