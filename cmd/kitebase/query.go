package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kitebase/kitebase/pkg/record"
)

var queryCount bool

var queryCmd = &cobra.Command{
	Use:   "query <dal text>",
	Short: "Compile and run a DAL query",
	Long: `Compile and run a DAL query against the tenant database, for example:

  kitebase query "select firstName, department.name from Employee where age > 30 order by firstName"

Row visibility follows the acting principal set with --as; without it the
query runs in system scope and sees everything.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		ctx := context.Background()
		q, err := env.Queries.Compile(ctx, args[0], principal())
		if err != nil {
			return err
		}
		if queryCount {
			n, err := q.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		}
		recs, err := q.List(ctx)
		if err != nil {
			return err
		}
		return printRecords(recs)
	},
}

func printRecords(recs []*record.Record) error {
	if outputFmt == "json" {
		out := make([]map[string]any, 0, len(recs))
		for _, rec := range recs {
			out = append(out, recordMap(rec))
		}
		return printJSON(out)
	}

	headers := []string{"id"}
	seen := map[string]bool{}
	for _, rec := range recs {
		for _, name := range rec.SetFields() {
			if !seen[name] {
				seen[name] = true
				headers = append(headers, name)
			}
		}
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := []string{string(rec.ID())}
		for _, name := range headers[1:] {
			row = append(row, formatValue(cellValue(rec, name)))
		}
		rows = append(rows, row)
	}
	printTable(headers, rows)
	return nil
}

// cellValue flattens one field for table output: nested records read as
// their identifier, child lists as a count.
func cellValue(rec *record.Record, name string) any {
	v, ok := rec.AttemptGet(name)
	if !ok {
		return nil
	}
	switch nested := v.(type) {
	case *record.Record:
		return string(nested.ID())
	case []*record.Record:
		return fmt.Sprintf("(%d records)", len(nested))
	default:
		return v
	}
}

// recordMap renders a record for JSON output, keeping explicit nulls.
func recordMap(rec *record.Record) map[string]any {
	out := map[string]any{"id": string(rec.ID())}
	for _, name := range rec.SetFields() {
		if rec.IsNull(name) {
			out[name] = nil
			continue
		}
		v, _ := rec.Get(name)
		switch nested := v.(type) {
		case *record.Record:
			out[name] = recordMap(nested)
		case []*record.Record:
			children := make([]map[string]any, 0, len(nested))
			for _, c := range nested {
				children = append(children, recordMap(c))
			}
			out[name] = children
		default:
			out[name] = v
		}
	}
	return out
}

func init() {
	queryCmd.Flags().BoolVar(&queryCount, "count", false, "Print the matching row count instead of rows")
}
