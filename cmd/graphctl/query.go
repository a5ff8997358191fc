package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/localnerve/jam-build-entitygraph/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query [-q FILE | --from TYPE --id ID]",
	Short: "Materialize a query and print the loaded graph as JSON",
	Long: `Materialize a query and print the loaded graph as JSON.

A query file is YAML mapping variable names to specs:

  ann:
    from: Person
    id: "1"
    include: [Friends, Employer.Staff]
    load: true

Lists that were not included are printed as ["deferred"].`,
	RunE: runQuery,
}

func init() {
	addQueryFlags(queryCmd)
	rootCmd.AddCommand(queryCmd)
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "q", "", "YAML query file")
	cmd.Flags().String("from", "", "type to query")
	cmd.Flags().StringSlice("id", nil, "instance id, repeatable")
	cmd.Flags().StringSlice("include", nil, "include path, repeatable")
	cmd.Flags().StringSlice("static", nil, "static property to fetch as Type.Property, repeatable")
}

func runQuery(cmd *cobra.Command, _ []string) error {
	specs, err := querySpecs(cmd)
	if err != nil {
		return err
	}
	statics, _ := cmd.Flags().GetStringSlice("static")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd.Context(), c.cfg.Timeout)
	defer cancel()

	q := query.New(c.mg, query.WithSync(c.sync), query.WithBatch(c.cfg.Batch), query.WithLogger(c.logger))
	res, err := q.Execute(ctx, query.Config{Model: specs, StaticPaths: statics})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("query: %w", err)
	}

	out, err := json.MarshalIndent(render(res), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// querySpecs reads the query file, or builds a single "result" variable from the
// flags.
func querySpecs(cmd *cobra.Command) (map[string]query.Spec, error) {
	file, _ := cmd.Flags().GetString("file")
	from, _ := cmd.Flags().GetString("from")
	ids, _ := cmd.Flags().GetStringSlice("id")
	include, _ := cmd.Flags().GetStringSlice("include")

	if file != "" {
		if from != "" {
			return nil, fmt.Errorf("--file and --from cannot be combined")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var specs map[string]query.Spec
		if err := yaml.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		if len(specs) == 0 {
			return nil, fmt.Errorf("%s has no queries", file)
		}
		return specs, nil
	}

	if from == "" || len(ids) == 0 {
		return nil, fmt.Errorf("either --file or --from with --id is required")
	}
	spec := query.Spec{From: from, Include: include, Load: true}
	if len(ids) == 1 {
		spec.ID = ids[0]
	} else {
		spec.IDs = ids
	}
	return map[string]query.Spec{"result": spec}, nil
}
