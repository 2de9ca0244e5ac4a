package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"
)

// NewValidateCommand creates the `validate` command for verifying a recipe
// file against the JSON Schema.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [recipe]",
		Short: "Validate a recipe file against recipe.schema.json",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	return cmd
}

// runValidate checks the provided recipe against the JSON Schema and reports
// any validation errors.
func runValidate(cmd *cobra.Command, args []string) error {
	recipePath := args[0]

	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&types.Recipe{})

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to serialize schema: %w", err)
	}
	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	documentLoader := gojsonschema.NewReferenceLoader("file://" + recipePath)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		logger.Println("Recipe validation errors:")
		for _, desc := range result.Errors() {
			logger.Printf(" - %s", desc)
		}
		return fmt.Errorf("validation failed with %d errors", len(result.Errors()))
	}

	logger.Println("Recipe is valid against the schema.")
	return nil
}
