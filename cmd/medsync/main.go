package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medsync",
		Short:         "Offline-first sync agent for medication and appointment records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newPushCmd(),
		newPullCmd(),
		newStatusCmd(),
		newHashPasswordCmd(),
	)

	return root
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read an API key from stdin and print its bcrypt hash for MCP_API_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, err := hashPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)

			return nil
		},
	}
}

func hashPassword(in io.Reader, prompt io.Writer, cost int) (string, error) {
	fmt.Fprint(prompt, "Enter password: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return "", fmt.Errorf("no input")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(scanner.Text()), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(hash), nil
}
