// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command hrvctl administers an hrvbrain deployment: schema management
// for the postgres backend and quick health queries against a running
// service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hrvctl",
	Short: "Administration tool for the hrvbrain service",
	Long: `hrvctl manages an hrvbrain deployment.

Database schema commands read the same HRV_POSTGRES_* environment
variables as the service itself, so they can run from the same container
or pod definition.

Examples:
  hrvctl db setup       # Create or migrate the schema
  hrvctl db validate    # Verify tables and constraints exist
  hrvctl db reset -f    # Drop all data and recreate the schema`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
