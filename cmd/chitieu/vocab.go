package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chitieu/internal/core"
	applog "chitieu/internal/log"
	"chitieu/internal/vocab"
)

func (a *app) openVocab(ctx context.Context) (*vocab.Book, error) {
	u, err := a.currentUser()
	if err != nil {
		return nil, err
	}
	return vocab.Open(ctx, a.backend.Gateway, u.ID, a.logger.WithComponent(applog.ComponentVocab).Logger)
}

func (a *app) vocabCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Keep a list of words you are learning",
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List your words, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openVocab(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			writeWords(a.out, b.Search(search))
			return nil
		},
	}
	list.Flags().StringVar(&search, "search", "", "only words whose text or meaning contains this")

	var example string
	add := &cobra.Command{
		Use:   "add <word> <meaning>",
		Short: "Add a word to learn",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.openVocab(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			v, err := b.Add(cmd.Context(), args[0], args[1], example)
			if err != nil {
				return err
			}
			a.printf("Added %s\n", v.Word)
			return nil
		},
	}
	add.Flags().StringVar(&example, "example", "", "an example sentence")

	cmd.AddCommand(list, add,
		a.vocabStatusCommand("learned", core.Learned),
		a.vocabStatusCommand("unlearned", core.Unlearned),
		&cobra.Command{
			Use:   "delete <word>",
			Short: "Remove a word",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := a.openVocab(cmd.Context())
				if err != nil {
					return err
				}
				defer b.Close()
				v, ok := b.Lookup(args[0])
				if !ok {
					return fmt.Errorf("delete %q: %w", args[0], vocab.ErrUnknownWord)
				}
				if err := b.Delete(cmd.Context(), v.ID); err != nil {
					return err
				}
				a.printf("Deleted %s\n", v.Word)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) vocabStatusCommand(use string, status core.VocabStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <word>",
		Short: "Mark a word " + use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.openVocab(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			v, ok := b.Lookup(args[0])
			if !ok {
				return fmt.Errorf("mark %q: %w", args[0], vocab.ErrUnknownWord)
			}
			if _, err := b.SetStatus(cmd.Context(), v.ID, status); err != nil {
				return err
			}
			a.printf("%s is now %s\n", v.Word, status)
			return nil
		},
	}
}
