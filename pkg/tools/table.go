package tools

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
)

// ShowTable renders rows as an aligned table on stdout, blank lines
// around it so it reads well between log output.
func ShowTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.AppendBulk(rows)

	fmt.Println()
	table.Render()
	fmt.Println()
}
