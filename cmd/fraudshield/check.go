package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/fraudshield/fraudshield/internal/app"
)

const maxInputRunes = 10000

func newCheckCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a detector locally and print the result as JSON",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "phishing <text>...",
		Short: "Score a URL or message; use - to read stdin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(raw)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("input text cannot be empty")
			}
			if utf8.RuneCountInString(text) > maxInputRunes {
				return fmt.Errorf("input text is too long: maximum %d characters", maxInputRunes)
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Detector.Phishing(cmd.Context(), text))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deepfake <file>",
		Short: "Score an image or video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFile(args[0]); err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Detector.Deepfake(cmd.Context(), args[0]))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "voice <file>",
		Short: "Score an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFile(args[0]); err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Detector.Voice(cmd.Context(), args[0]))
			})
		},
	})

	return cmd
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
