package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/pkg/passgen"
)

// Generate command flags
var (
	generateLength      int
	generateCount       int
	generateNoSymbols   bool
	generateNoNumbers   bool
	generateNoUppercase bool
	generateNoLowercase bool
	generateExclude     string
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&generateLength, "length", "l", passgen.DefaultLength, fmt.Sprintf("Password length (%d-%d)", passgen.MinLength, passgen.MaxLength))
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, fmt.Sprintf("Number of passwords to generate (1-%d)", passgen.MaxCount))
	generateCmd.Flags().BoolVar(&generateNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&generateNoNumbers, "no-numbers", false, "Exclude numbers")
	generateCmd.Flags().BoolVar(&generateNoUppercase, "no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().BoolVar(&generateNoLowercase, "no-lowercase", false, "Exclude lowercase letters")
	generateCmd.Flags().StringVar(&generateExclude, "exclude", "", "Characters to exclude")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords",
	Long: `Generate cryptographically secure random passwords. The vault is not
opened.

Examples:
  # Generate a 24-character password (default)
  nimbusctl generate

  # Generate 5 passwords of 32 characters without symbols
  nimbusctl generate -n 5 -l 32 --no-symbols

  # Exclude ambiguous characters
  nimbusctl generate --exclude "0O1lI"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		passwords, err := passgen.GenerateN(generateOptions(), generateCount)
		if err != nil {
			return err
		}
		for _, p := range passwords {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func generateOptions() passgen.Options {
	return passgen.Options{
		Length:      generateLength,
		NoLowercase: generateNoLowercase,
		NoUppercase: generateNoUppercase,
		NoDigits:    generateNoNumbers,
		NoSymbols:   generateNoSymbols,
		Exclude:     generateExclude,
	}
}
