package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codefionn/ryxsurf/internal/config"
	"github.com/codefionn/ryxsurf/internal/secrets"
	"github.com/codefionn/ryxsurf/internal/vault"
)

const maskedPassword = "********"

func newVaultCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage saved credentials",
	}
	cmd.AddCommand(newVaultSaveCmd(g))
	cmd.AddCommand(newVaultGetCmd(g))
	cmd.AddCommand(newVaultListCmd(g))
	cmd.AddCommand(newVaultDeleteCmd(g))
	cmd.AddCommand(newVaultGenerateCmd())
	return cmd
}

// withVault opens the vault described by the config, runs fn and closes it.
func withVault(g *globalOptions, fn func(v *vault.Vault) error) (err error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	closeLogger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()

	if err := secrets.Init(); err != nil {
		return err
	}
	v, err := vault.Open(vaultOptions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, v.Close())
	}()
	return fn(v)
}

func vaultOptions(cfg *config.Config) vault.Options {
	return vault.Options{
		Path:           cfg.PasswordsDBPath(),
		MasterPassword: cfg.MasterPassword(),
		PreferKeyring:  cfg.Vault.PreferKeyring,
		Autofill:       cfg.Vault.Autofill,
	}
}

func newVaultSaveCmd(g *globalOptions) *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "save <origin> <username>",
		Short: "Save or replace a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := newPassword(generate)
			if err != nil {
				return err
			}

			return withVault(g, func(v *vault.Vault) error {
				if err := v.Save(args[0], args[1], password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s for %s\n", args[1], vault.Normalize(args[0]))
				if generate {
					fmt.Fprintf(cmd.OutOrStdout(), "Generated password: %s\n", password)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&generate, "generate", "g", false, "generate a password instead of prompting")
	return cmd
}

func newPassword(generate bool) (string, error) {
	if generate {
		return vault.GeneratePassword(vault.DefaultGeneratorOptions())
	}
	return passwordPrompt("Password: ")
}

func newVaultGetCmd(g *globalOptions) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "get <origin>",
		Short: "Show credentials for a site, most recently used first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(g, func(v *vault.Vault) error {
				creds, err := v.Get(args[0])
				if err != nil {
					return err
				}
				if len(creds) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No credentials for %s\n", vault.Normalize(args[0]))
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tPASSWORD\tLAST USED")
				for _, c := range creds {
					pw := maskedPassword
					if show {
						pw = c.Password
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Username, pw, c.LastUsed.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&show, "show", "s", false, "print passwords in clear text")
	return cmd
}

func newVaultListCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List domains with saved credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(g, func(v *vault.Vault) error {
				domains, err := v.ListDomains()
				if err != nil {
					return err
				}
				if len(domains) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved credentials.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(domains, "\n"))
				return nil
			})
		},
	}
}

func newVaultDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <origin> <username>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(g, func(v *vault.Vault) error {
				removed, err := v.Delete(args[0], args[1])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no credential for %s at %s", args[1], vault.Normalize(args[0]))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s for %s\n", args[1], vault.Normalize(args[0]))
				return nil
			})
		},
	}
}

func newVaultGenerateCmd() *cobra.Command {
	opts := vault.DefaultGeneratorOptions()
	var noSymbols bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a random password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noSymbols {
				opts.Symbols = false
			}
			pw, err := vault.GeneratePassword(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pw)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.Length, "length", "n", opts.Length, "password length")
	cmd.Flags().BoolVar(&noSymbols, "no-symbols", false, "only use letters and digits")
	return cmd
}
