package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rdeforest/ClodWeave/internal/config"
	"github.com/rdeforest/ClodWeave/internal/store"
	"github.com/rdeforest/ClodWeave/internal/vault"
)

func runSecret(args []string) error {
	if len(args) == 0 {
		printSecretUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return secretList(db)
	case "set":
		secrets, err := openSecrets(cfg, db)
		if err != nil {
			return err
		}
		return secretSet(secrets, args[1:])
	case "delete":
		return secretDelete(db, args[1:])
	default:
		printSecretUsage()
		return fmt.Errorf("unknown secret command: %s", args[0])
	}
}

func printSecretUsage() {
	fmt.Fprintf(os.Stderr, `Usage: clodweave secret <command>

Commands:
  list                                              List secrets (metadata only)
  set <name> --value <str> [--description <text>]   Seal a string secret
  set <name> --file <path> [--description <text>]   Seal a file's contents
  delete <name>                                     Delete a secret

Component configs reference secrets as "secret:<name>".

Environment:
  CLODWEAVE_VAULT_PASSPHRASE   Required for set. Encryption passphrase.
`)
}

func openSecrets(cfg *config.Config, db *store.Store) (*vault.Secrets, error) {
	if cfg.Vault.Passphrase == "" {
		return nil, fmt.Errorf("CLODWEAVE_VAULT_PASSPHRASE environment variable is required")
	}
	v, err := vault.New(cfg.Vault.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	return vault.NewSecrets(v, db), nil
}

func secretList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func secretSet(secrets *vault.Secrets, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: clodweave secret set <name> --value <string> | --file <path> [--description <text>]")
	}

	name := args[0]
	var value []byte
	switch args[1] {
	case "--value":
		value = []byte(args[2])
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	if err := secrets.Put(name, description, value); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func secretDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: clodweave secret delete <name>")
	}
	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
