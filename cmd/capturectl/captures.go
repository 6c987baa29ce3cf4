package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dannytownkins/Ember-sub000/internal/capture"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

func init() {
	var text, file, method string
	var images []string
	var wait bool
	var pollEvery time.Duration

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a conversation capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := buildInput(text, file, method, images, cmd.InOrStdin())
			if err != nil {
				return err
			}
			c, err := newProfileClient()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			sub, err := c.Submit(ctx, in)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), sub)
			}
			view, err := c.Wait(ctx, sub.CaptureID, pollEvery)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	submitCmd.Flags().StringVarP(&text, "text", "t", "", "Conversation text")
	submitCmd.Flags().StringVarP(&file, "file", "f", "", "Read conversation text from a file (- for stdin)")
	submitCmd.Flags().StringArrayVarP(&images, "image", "i", nil, "Screenshot reference: url=URL[,type=MIME][,size=BYTES] (repeatable)")
	submitCmd.Flags().StringVarP(&method, "method", "m", "", "Input method: paste, screenshot or api (derived when empty)")
	submitCmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the capture finishes")
	submitCmd.Flags().DurationVar(&pollEvery, "poll", time.Second, "Polling interval with --wait")
	rootCmd.AddCommand(submitCmd)

	statusCmd := &cobra.Command{
		Use:   "status CAPTURE_ID",
		Short: "Show the processing status of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newProfileClient()
			if err != nil {
				return err
			}
			view, err := c.Status(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	rootCmd.AddCommand(statusCmd)
}

// buildInput assembles a submission from the submit flags. Exactly one
// source is allowed.
func buildInput(text, file, method string, images []string, stdin io.Reader) (capture.Input, error) {
	sources := 0
	for _, set := range []bool{text != "", file != "", len(images) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return capture.Input{}, fmt.Errorf("exactly one of --text, --file or --image is required")
	}

	in := capture.Input{InputMethod: model.InputMethod(method)}
	switch {
	case text != "":
		in.Text = text
	case file != "":
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return capture.Input{}, fmt.Errorf("read %s: %w", file, err)
		}
		in.Text = string(data)
	default:
		for _, spec := range images {
			ref, err := parseImage(spec)
			if err != nil {
				return capture.Input{}, err
			}
			in.Images = append(in.Images, ref)
		}
	}

	if in.InputMethod == "" {
		in.InputMethod = model.InputPaste
		if len(in.Images) > 0 {
			in.InputMethod = model.InputScreenshot
		}
	}
	if !in.InputMethod.Valid() {
		return capture.Input{}, fmt.Errorf("unknown --method %q", method)
	}
	return in, nil
}

// parseImage reads "url=...,type=...,size=..." or a bare URL. The content
// type defaults to the one implied by the URL's extension.
func parseImage(spec string) (model.ImageRef, error) {
	var ref model.ImageRef
	if !strings.Contains(spec, "url=") {
		ref.URL = strings.TrimSpace(spec)
	} else {
		for _, part := range strings.Split(spec, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				return ref, fmt.Errorf("image %q: expected key=value, got %q", spec, part)
			}
			switch k {
			case "url":
				ref.URL = v
			case "type":
				ref.ContentType = v
			case "size":
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return ref, fmt.Errorf("image %q: size: %w", spec, err)
				}
				ref.SizeBytes = n
			default:
				return ref, fmt.Errorf("image %q: unknown key %q", spec, k)
			}
		}
	}
	if ref.URL == "" {
		return ref, fmt.Errorf("image %q: url required", spec)
	}
	if ref.ContentType == "" {
		ref.ContentType = mime.TypeByExtension(path.Ext(strings.SplitN(ref.URL, "?", 2)[0]))
	}
	return ref, nil
}
