// Package output renders command results for the terminal, either as plain
// text or as JSON when --json is set.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/takuphilchan/offgrid-t2i/internal/catalog"
	"github.com/takuphilchan/offgrid-t2i/internal/history"
	"github.com/takuphilchan/offgrid-t2i/internal/hub"
)

// JSONMode controls whether output is JSON or human-readable
var JSONMode = false

// ModelInfo represents a hub model in JSON output
type ModelInfo struct {
	ID           string   `json:"id"`
	Author       string   `json:"author,omitempty"`
	PipelineTag  string   `json:"pipeline_tag,omitempty"`
	Library      string   `json:"library,omitempty"`
	Downloads    int64    `json:"downloads"`
	Likes        int64    `json:"likes"`
	Gated        bool     `json:"gated"`
	Private      bool     `json:"private"`
	Tags         []string `json:"tags,omitempty"`
	LastModified string   `json:"last_modified,omitempty"`
}

// GenerationInfo represents a finished generation in JSON output
type GenerationInfo struct {
	RequestID      string `json:"request_id"`
	Model          string `json:"model"`
	File           string `json:"file"`
	Bytes          int    `json:"bytes"`
	ContentType    string `json:"content_type"`
	GenerationTime string `json:"generation_time"`
}

// CommandResult represents a generic command result
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// Error writes a failed command result in JSON mode. In text mode errors
// are left to the caller.
func Error(w io.Writer, message string, err error) error {
	if !JSONMode {
		return nil
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return PrintJSON(w, CommandResult{Success: false, Message: message, Error: errMsg})
}

// NewModelInfo converts a hub model record.
func NewModelInfo(m hub.Model) ModelInfo {
	info := ModelInfo{
		ID:          m.Identifier(),
		Author:      m.Author,
		PipelineTag: m.PipelineTag,
		Library:     m.LibraryName,
		Downloads:   m.Downloads,
		Likes:       int64(m.Likes),
		Gated:       m.IsGated(),
		Private:     m.Private,
		Tags:        m.Tags,
	}
	if !m.LastModified.IsZero() {
		info.LastModified = m.LastModified.Format(time.RFC3339)
	}
	return info
}

// PrintModel writes one hub model.
func PrintModel(w io.Writer, m hub.Model) error {
	info := NewModelInfo(m)
	if JSONMode {
		return PrintJSON(w, info)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", info.ID)
	if info.Author != "" {
		fmt.Fprintf(tw, "Author:\t%s\n", info.Author)
	}
	if info.PipelineTag != "" {
		fmt.Fprintf(tw, "Pipeline:\t%s\n", info.PipelineTag)
	}
	if info.Library != "" {
		fmt.Fprintf(tw, "Library:\t%s\n", info.Library)
	}
	fmt.Fprintf(tw, "Downloads:\t%d\n", info.Downloads)
	fmt.Fprintf(tw, "Likes:\t%d\n", info.Likes)
	fmt.Fprintf(tw, "Gated:\t%t\n", info.Gated)
	if info.LastModified != "" {
		fmt.Fprintf(tw, "Last modified:\t%s\n", info.LastModified)
	}
	return tw.Flush()
}

// PrintCatalog writes the image model catalog.
func PrintCatalog(w io.Writer, models []catalog.ImageModel) error {
	if JSONMode {
		return PrintJSON(w, map[string]any{
			"models": models,
			"count":  len(models),
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tHUB MODEL")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Key, m.Name, m.ID)
	}
	return tw.Flush()
}

// PrintGeneration writes the result of a generate command.
func PrintGeneration(w io.Writer, info GenerationInfo) error {
	if JSONMode {
		return PrintJSON(w, CommandResult{Success: true, Message: "Image generated", Data: info})
	}
	_, err := fmt.Fprintf(w, "Saved %s (%d bytes, %s) in %s [request %s]\n",
		info.File, info.Bytes, info.Model, info.GenerationTime, info.RequestID)
	return err
}

// PrintHistory writes generation history entries.
func PrintHistory(w io.Writer, entries []history.Entry) error {
	if JSONMode {
		return PrintJSON(w, map[string]any{
			"history": entries,
			"count":   len(entries),
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREQUEST\tMODEL\tSIZE\tSTATUS\tDURATION")
	for _, e := range entries {
		status := string(e.Status)
		if e.Error != "" {
			status += ": " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%s\t%dms\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.RequestID, e.Model, e.Width, e.Height, status, e.DurationMS)
	}
	return tw.Flush()
}
