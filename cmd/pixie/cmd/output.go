package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/subscription"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validateOutputFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want table, json or yaml)", f)
	}
}

// IsTableOutput returns true unless a machine readable format was requested
func IsTableOutput() bool {
	return outputFormat == formatTable
}

// render writes v in the selected format. Table output is a Field/Value
// table built from rows.
func render(w io.Writer, v any, rows [][]string) error {
	switch outputFormat {
	case formatJSON:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case formatYAML:
		return writeYAML(w, v)
	default:
		table := tablewriter.NewWriter(w)
		table.Header("Field", "Value")
		for _, row := range rows {
			table.Append(row)
		}
		return table.Render()
	}
}

// writeYAML goes through JSON so keys keep their wire names
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

func snapshotRows(s models.Snapshot) [][]string {
	rows := [][]string{
		{"ID", s.ID},
		{"Status", string(s.Status)},
		{"Stage", string(s.Stage)},
		{"Progress", fmt.Sprintf("%d%%", s.Progress)},
		{"Remaining", fmt.Sprintf("%ds", s.EstimatedTimeRemaining)},
		{"Step", s.CurrentStep},
	}
	return appendResults(rows, s.Images, s.Model3D, s.Error)
}

func stateRows(st subscription.State) [][]string {
	rows := [][]string{
		{"ID", st.ID},
		{"Phase", string(st.Phase)},
		{"Progress", fmt.Sprintf("%d%%", st.Progress)},
		{"Step", st.CurrentStep},
	}
	return appendResults(rows, st.Images, st.Model3D, st.Error)
}

func appendResults(rows [][]string, images []string, model3D, errMsg string) [][]string {
	for i, img := range images {
		rows = append(rows, []string{fmt.Sprintf("Image %d", i+1), img})
	}
	if model3D != "" {
		rows = append(rows, []string{"3D Model", model3D})
	}
	if errMsg != "" {
		rows = append(rows, []string{"Error", errMsg})
	}
	return rows
}

const barWidth = 20

// progressBar draws p (0-100) as a fixed width bar
func progressBar(p int) string {
	p = max(0, min(100, p))
	filled := p * barWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}

func progressLine(progress int, stage, step string) string {
	line := fmt.Sprintf("%s %3d%%", progressBar(progress), progress)
	if stage != "" {
		line += "  " + stage
	}
	if step != "" {
		line += "  " + step
	}
	return line
}
