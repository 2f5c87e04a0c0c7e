package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"chitieu/internal/chat"
	"chitieu/internal/cli"
	"chitieu/internal/core"
	"chitieu/internal/directory"
	"chitieu/internal/ledger"
	applog "chitieu/internal/log"
)

func (a *app) signupCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			u, err := a.sessions.SignUp(ctx, email, password)
			if err != nil {
				return err
			}
			a.printf("Signed up as %s\n", u.Email)
			return a.seedCategories(ctx)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

// seedCategories creates the default categories for a new account. Failures
// are reported but do not undo the sign up.
func (a *app) seedCategories(ctx context.Context) error {
	names, err := cli.ReadSeedFile(a.cfg.SeedCategoriesFile)
	if err != nil || len(names) == 0 {
		return err
	}
	l, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	for _, name := range names {
		if _, err := l.CreateCategory(ctx, name); err != nil {
			a.printf("Could not create category %q: %s\n", name, cli.UserMessage(err))
			continue
		}
	}
	a.printf("Created %d starter categories\n", len(l.Categories()))
	return nil
}

func (a *app) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.sessions.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			a.printf("Signed in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.sessions.SignOut(); err != nil {
				return err
			}
			a.printf("Signed out\n")
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			u, err := a.currentUser()
			if err != nil {
				return err
			}
			a.printf("%s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
}

func (a *app) categoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List categories with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			writeCategories(a.out, l.Categories())
			return nil
		},
	}
}

func (a *app) categoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage categories",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Create a category with a zero balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			c, err := l.CreateCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printf("Created %s (#%d)\n", c.Name, c.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a category, its balance and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			c, ok := l.CategoryByName(args[0])
			if !ok {
				return fmt.Errorf("delete %q: %w", args[0], ledger.ErrUnknownCategory)
			}
			if err := l.DeleteCategory(cmd.Context(), c.ID); err != nil {
				return err
			}
			a.printf("Deleted %s\n", c.Name)
			return nil
		},
	})
	return cmd
}

func (a *app) recordCommand() *cobra.Command {
	var (
		credit bool
		note   string
	)
	cmd := &cobra.Command{
		Use:   "record <category> <amount>",
		Short: "Record an expense, or income with --in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseAmount(args[1])
			if err != nil {
				return err
			}
			kind := core.Debit
			if credit {
				kind = core.Credit
			}

			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			c, ok := l.CategoryByName(args[0])
			if !ok {
				return fmt.Errorf("record %q: %w", args[0], ledger.ErrUnknownCategory)
			}

			e, err := l.RecordEntry(cmd.Context(), c.ID, amount, kind, note)
			if err != nil {
				return err
			}
			bal, _ := l.Balance(c.ID)
			a.printf("Recorded #%d %s %s in %s, balance %s\n", e.ID, e.Kind, e.Amount, c.Name, bal)
			return nil
		},
	}
	cmd.Flags().BoolVar(&credit, "in", false, "record income instead of an expense")
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	return cmd
}

func (a *app) entriesCommand() *cobra.Command {
	var (
		category string
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List entries, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			var id int64
			if category != "" {
				c, ok := l.CategoryByName(category)
				if !ok {
					return fmt.Errorf("entries %q: %w", category, ledger.ErrUnknownCategory)
				}
				id = c.ID
			}

			names := categoryNames(l.Categories())
			writeEntries(a.out, l.Entries(id), names)
			if !follow {
				return nil
			}

			ctx, stop := notifyContext(ctx)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-l.Changes():
					if !ok {
						return nil
					}
					a.printf("\n")
					writeEntries(a.out, l.Entries(id), categoryNames(l.Categories()))
				}
			}
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only entries of this category")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing as entries change")
	return cmd
}

func (a *app) receiptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <entry-id> <image>",
		Short: "Attach a receipt image to an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("receipt %q: %w", args[0], ledger.ErrUnknownEntry)
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read receipt: %w", err)
			}

			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			url, err := l.AttachReceipt(cmd.Context(), id, filepath.Base(args[1]), data)
			if err != nil {
				return err
			}
			a.printf("Receipt stored at %s\n", url)
			return nil
		},
	}
}

func (a *app) usersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the other users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.currentUser()
			if err != nil {
				return err
			}
			d, err := directory.Open(cmd.Context(), a.backend.Gateway, u.ID, a.logger.WithComponent(applog.ComponentDirectory).Logger)
			if err != nil {
				return err
			}
			defer d.Close()
			writeUsers(a.out, d.Users())
			return nil
		},
	}
}

func (a *app) chatCommand() *cobra.Command {
	var pushOnly bool
	cmd := &cobra.Command{
		Use:   "chat <user-id|email>",
		Short: "Chat live with another user; each input line is sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			me, err := a.currentUser()
			if err != nil {
				return err
			}
			d, err := directory.Open(ctx, a.backend.Gateway, me.ID, a.logger.WithComponent(applog.ComponentDirectory).Logger)
			if err != nil {
				return err
			}
			defer d.Close()

			peer := args[0]
			if strings.Contains(peer, "@") {
				u, ok := d.FindByEmail(peer)
				if !ok {
					return fmt.Errorf("chat %q: %w", peer, directory.ErrUnknownUser)
				}
				peer = u.ID
			}
			peerEmail, err := d.Email(ctx, peer)
			if err != nil {
				return err
			}

			opts := []chat.Option{chat.WithLogger(a.logger.WithComponent(applog.ComponentChat).Logger)}
			if pushOnly {
				opts = append(opts, chat.PushOnly())
			}
			conv, err := chat.Open(ctx, a.backend.Gateway, me.ID, peer, opts...)
			if err != nil {
				return err
			}
			defer conv.Close()

			names := map[string]string{me.ID: "me", peer: peerEmail}
			printer := newMessagePrinter(a.out, names)
			printer.write(conv.Messages())

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := conv.Send(ctx, line); err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						a.printf("! %s\n", cli.UserMessage(err))
					}
				case _, ok := <-conv.Changes():
					if !ok {
						return nil
					}
					printer.write(conv.Messages())
				}
			}
		},
	}
	cmd.Flags().BoolVar(&pushOnly, "push-only", false, "show sent messages only once the server confirms them")
	return cmd
}
