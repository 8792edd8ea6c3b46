// Package cliout renders tabular output for daemonctl, the read-only
// fleet inspection CLI.
package cliout

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a
// table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a formatted, border-free table to w.
func PrintTable(w io.Writer, data TableRenderer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.Rows() {
		table.Append(row)
	}
	table.Render()
}

// FleetTable renders StatusNodes()-shaped rows: alias, connected,
// node name, node id, commands.
type FleetTable struct {
	rows [][]string
}

// NewFleetTable builds a FleetTable from orchestrator.StatusNodes output.
func NewFleetTable(nodes []map[string]interface{}) *FleetTable {
	t := &FleetTable{}
	for _, n := range nodes {
		connected := "no"
		if c, _ := n["connected"].(bool); c {
			connected = "yes"
		}
		commands, _ := n["commands"].([]string)
		t.rows = append(t.rows, []string{
			stringOf(n["alias"]),
			connected,
			stringOf(n["node_name"]),
			stringOf(n["node_id"]),
			joinCommands(commands),
		})
	}
	return t
}

func (t *FleetTable) Headers() []string { return []string{"alias", "connected", "node name", "node id", "commands"} }
func (t *FleetTable) Rows() [][]string  { return t.rows }

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func joinCommands(cmds []string) string {
	out := ""
	for i, c := range cmds {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
