// andante-keys manages the API keys that gate access to the playback server.
// Keys are stored bcrypt-hashed in keys.toml; generated plaintext is shown
// exactly once.
package main

import (
	"fmt"
	"os"

	"andante/internal/auth"

	"github.com/spf13/cobra"
)

var keysFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "andante-keys",
		Short:        "Manage API keys for the Andante playback server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&keysFile, "keys-file", "f", "./keys.toml", "path to the keys file")

	root.AddCommand(genCmd(), addCmd(), removeCmd(), listCmd())
	return root
}

func openStore() (*auth.Store, error) {
	store, err := auth.NewStore(keysFile)
	if err != nil {
		return nil, fmt.Errorf("could not open key store: %w", err)
	}
	return store, nil
}

func genCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen <user>",
		Short: "Generate a new key for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			key, err := store.GenerateKey(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Generated key for %q:\n  %s\nStore it now; only its hash is kept.\n", args[0], key)
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <user> <key>",
		Short: "Add a user with a chosen key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.AddKey(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Added user %q.\n", args[0])
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user>",
		Short: "Revoke a user's key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			removed, err := store.RemoveUser(args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("User %q not found.\n", args[0])
				return nil
			}
			fmt.Printf("Removed user %q.\n", args[0])
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users with keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			users := store.Users()
			if len(users) == 0 {
				fmt.Println("No keys.")
				return nil
			}
			for _, u := range users {
				fmt.Printf("  %s (created %s)\n", u.User, u.Created)
			}
			return nil
		},
	}
}
