// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaRefresh bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the match database schema",
	RunE:  runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaRefresh, "refresh", false, "drop the cached schema and re-introspect")
}

func runSchema(cmd *cobra.Command, args []string) error {
	svc, _, cleanup, err := buildService("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	schema, err := svc.Schema(cmd.Context())
	if schemaRefresh {
		schema, err = svc.RefreshSchema(cmd.Context())
	}
	if err != nil {
		return err
	}

	fmt.Println(schema.Describe())
	return nil
}
