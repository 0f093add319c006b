package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/cosbrowser/internal/completion"
	"github.com/koustreak/cosbrowser/internal/listing"
	"github.com/koustreak/cosbrowser/internal/preview"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var (
	folderColor = color.New(color.FgBlue, color.Bold)
	imageColor  = color.New(color.FgMagenta)
	dimColor    = color.New(color.Faint)
)

// render writes v as JSON or YAML, or calls text for the text format.
func render(w io.Writer, format string, v interface{}, text func(io.Writer) error) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func printListing(w io.Writer, prefix string, res *listing.Result) error {
	if len(res.Folders) == 0 && len(res.Files) == 0 {
		dimColor.Fprintf(w, "%s is empty\n", displayPrefix(prefix))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range res.Folders {
		fmt.Fprintf(tw, "%s\t-\t-\n", folderColor.Sprint(f.Name+"/"))
	}
	for _, f := range res.Files {
		name := f.Name
		if completion.IsImage(f.Name) {
			name = imageColor.Sprint(f.Name)
		}
		modified := "-"
		if !f.LastModified.IsZero() {
			modified = f.LastModified.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, completion.FormatSize(f.Size), modified)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	dimColor.Fprintf(w, "%d folders, %d files\n", len(res.Folders), len(res.Files))
	return nil
}

func printItems(w io.Writer, items []completion.Item) error {
	if len(items) == 0 {
		dimColor.Fprintln(w, "no completions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range items {
		label := it.Label
		switch it.Kind {
		case completion.KindFolder:
			label = folderColor.Sprint(it.Label)
		case completion.KindImage:
			label = imageColor.Sprint(it.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", label, dimColor.Sprint(it.Detail), it.InsertText)
	}
	return tw.Flush()
}

func printPreview(w io.Writer, p preview.Preview) error {
	if p.Fallback {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("no thumbnail (%s):", p.Reason), p.URL)
		return nil
	}
	fmt.Fprintf(w, "%s %s\n", color.GreenString("thumbnail:"), p.URL)
	fmt.Fprintln(w, p.DataURI)
	return nil
}

func displayPrefix(prefix string) string {
	if prefix == "" {
		return "bucket root"
	}
	return prefix
}

// formatError renders err for the terminal. Kinded errors already carry
// their kind in the message.
func formatError(err error) string {
	return color.RedString("error:") + " " + err.Error()
}
