package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tyemirov/oidcidp/internal/authkit"
)

var errEmptyPassword = errors.New("hash_password.empty")

func newGenerateKeysCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "generate-keys",
		Short: "Print a fresh RSA signing key pair as JWK environment assignments",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			keyID, _ := command.Flags().GetString("kid")
			keyPair, err := authkit.GeneratedKeySource(strings.TrimSpace(keyID))()
			if err != nil {
				return fmt.Errorf("generate_keys: %w", err)
			}
			privateJWK, err := json.Marshal(keyPair.PrivateJWK())
			if err != nil {
				return fmt.Errorf("generate_keys.private: %w", err)
			}
			publicJWK, err := json.Marshal(keyPair.PublicJWK)
			if err != nil {
				return fmt.Errorf("generate_keys.public: %w", err)
			}
			output := command.OutOrStdout()
			fmt.Fprintf(output, "# kid: %s\n", keyPair.KeyID)
			fmt.Fprintf(output, "APP_RSA_PRIVATE_KEY_JWK='%s'\n", privateJWK)
			fmt.Fprintf(output, "APP_RSA_PUBLIC_KEY_JWK='%s'\n", publicJWK)
			return nil
		},
	}
	command.Flags().String("kid", "", "Key id to embed; empty derives the JWK thumbprint")
	return command
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			line, err := bufio.NewReader(command.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("hash_password.read: %w", errEmptyPassword)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return fmt.Errorf("hash_password.read: %w", errEmptyPassword)
			}
			hash, err := authkit.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(command.OutOrStdout(), hash)
			return nil
		},
	}
}
