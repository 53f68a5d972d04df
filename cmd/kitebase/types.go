package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kitebase/kitebase/pkg/meta"
)

var typeCmd = &cobra.Command{
	Use:   "type",
	Short: "Manage type definitions",
}

var fieldCmd = &cobra.Command{
	Use:   "field",
	Short: "Manage field definitions",
}

var (
	typeLabel string
	typeBasic bool
)

var typeCreateCmd = &cobra.Command{
	Use:   "create <package.Name>",
	Short: "Create a type and its record table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		pkg, apiName, ok := strings.Cut(args[0], ".")
		if !ok {
			return fmt.Errorf("type name must be qualified as package.Name, got %q", args[0])
		}
		t, err := env.Registry.CreateType(meta.TypeSpec{
			Package: pkg,
			APIName: apiName,
			Label:   typeLabel,
			Basic:   typeBasic,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created type %s (%s, table %s)\n", t.QualifiedName(), t.KID, t.Table)
		return nil
	},
}

var typeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List type definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		types := env.Registry.Types()
		if outputFmt == "json" {
			out := make([]map[string]any, 0, len(types))
			for _, t := range types {
				out = append(out, map[string]any{
					"kid":    string(t.KID),
					"name":   t.QualifiedName(),
					"prefix": t.Prefix,
					"basic":  t.Basic,
					"fields": len(t.Fields()),
				})
			}
			return printJSON(out)
		}
		rows := make([][]string, 0, len(types))
		for _, t := range types {
			rows = append(rows, []string{
				string(t.KID), t.QualifiedName(), t.Prefix, strconv.Itoa(len(t.Fields())),
			})
		}
		printTable([]string{"kid", "name", "prefix", "fields"}, rows)
		return nil
	},
}

var typeDeleteCmd = &cobra.Command{
	Use:   "delete <package.Name>",
	Short: "Delete a type, its fields and its record table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		t, err := env.Registry.GetTypeByName(args[0])
		if err != nil {
			return err
		}
		if err := env.Registry.DeleteType(t.KID); err != nil {
			return err
		}
		fmt.Printf("deleted type %s\n", t.QualifiedName())
		return nil
	},
}

var (
	fieldRequired bool
	fieldTrack    bool
	fieldLength   int
	fieldDefault  string
	fieldEnum     []string
	fieldRefType  string
	fieldCascade  bool
)

var fieldAddCmd = &cobra.Command{
	Use:   "add <package.Name> <fieldName> <kind>",
	Short: "Add a field to a type",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		t, err := env.Registry.GetTypeByName(args[0])
		if err != nil {
			return err
		}
		spec := meta.FieldSpec{
			APIName:       args[1],
			Kind:          meta.DataType(args[2]),
			Required:      fieldRequired,
			TrackHistory:  fieldTrack,
			Length:        fieldLength,
			DefaultValue:  fieldDefault,
			EnumValues:    fieldEnum,
			CascadeDelete: fieldCascade,
		}
		if fieldRefType != "" {
			target, err := env.Registry.GetTypeByName(fieldRefType)
			if err != nil {
				return err
			}
			spec.RefTypeKID = target.KID
		}
		f, err := env.Registry.CreateField(t.KID, spec)
		if err != nil {
			return err
		}
		fmt.Printf("added field %s.%s (%s, %s)\n", t.QualifiedName(), f.APIName, f.KID, f.Kind)
		return nil
	},
}

var fieldRenameCmd = &cobra.Command{
	Use:   "rename <package.Name> <fieldName> <newName>",
	Short: "Rename a field and its physical column",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		t, f, err := lookupField(env.Registry, args[0], args[1])
		if err != nil {
			return err
		}
		renamed, err := env.Registry.UpdateField(t.KID, f.KID, meta.FieldUpdate{Rename: &args[2]})
		if err != nil {
			return err
		}
		fmt.Printf("renamed field %s.%s to %s\n", t.QualifiedName(), args[1], renamed.APIName)
		return nil
	},
}

var fieldRequiredCmd = &cobra.Command{
	Use:   "required <package.Name> <fieldName> <true|false>",
	Short: "Toggle a field's required flag",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		t, f, err := lookupField(env.Registry, args[0], args[1])
		if err != nil {
			return err
		}
		required, err := strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", args[2])
		}
		if _, err := env.Registry.UpdateField(t.KID, f.KID, meta.FieldUpdate{Required: &required}); err != nil {
			return err
		}
		fmt.Printf("field %s.%s required=%v\n", t.QualifiedName(), f.APIName, required)
		return nil
	},
}

var fieldDeleteCmd = &cobra.Command{
	Use:   "delete <package.Name> <fieldName>",
	Short: "Delete a field and its physical column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		t, f, err := lookupField(env.Registry, args[0], args[1])
		if err != nil {
			return err
		}
		if err := env.Registry.DeleteField(t.KID, f.KID); err != nil {
			return err
		}
		fmt.Printf("deleted field %s.%s\n", t.QualifiedName(), f.APIName)
		return nil
	},
}

func lookupField(reg *meta.Registry, typeName, fieldName string) (*meta.Type, *meta.Field, error) {
	t, err := reg.GetTypeByName(typeName)
	if err != nil {
		return nil, nil, err
	}
	f := t.Field(fieldName)
	if f == nil {
		return nil, nil, fmt.Errorf("type %s has no field %q", t.QualifiedName(), fieldName)
	}
	return t, f, nil
}

func init() {
	typeCreateCmd.Flags().StringVar(&typeLabel, "label", "", "Display label (defaults from the api name)")
	typeCreateCmd.Flags().BoolVar(&typeBasic, "basic", false, "Mark as a system type exempt from row visibility")
	typeCmd.AddCommand(typeCreateCmd, typeListCmd, typeDeleteCmd)

	fieldAddCmd.Flags().BoolVar(&fieldRequired, "required", false, "Require a value on every record")
	fieldAddCmd.Flags().BoolVar(&fieldTrack, "track-history", false, "Record value changes in field history")
	fieldAddCmd.Flags().IntVar(&fieldLength, "length", 0, "Maximum length for text fields")
	fieldAddCmd.Flags().StringVar(&fieldDefault, "default", "", "Default value applied on insert")
	fieldAddCmd.Flags().StringSliceVar(&fieldEnum, "enum", nil, "Allowed values for enum fields")
	fieldAddCmd.Flags().StringVar(&fieldRefType, "ref", "", "Target type for reference fields")
	fieldAddCmd.Flags().BoolVar(&fieldCascade, "cascade", false, "Cascade delete through this reference")
	fieldCmd.AddCommand(fieldAddCmd, fieldRenameCmd, fieldRequiredCmd, fieldDeleteCmd)
}
