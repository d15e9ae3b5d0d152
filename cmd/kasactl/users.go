package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List and remove users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored user",
	Args:  cobra.NoArgs,
	RunE:  withEnv(runUsersList),
}

var flagYes bool

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user and all of their months",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runUsersDelete),
}

func init() {
	usersDeleteCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Do not ask for confirmation")
	usersCmd.AddCommand(usersListCmd, usersDeleteCmd)
	rootCmd.AddCommand(usersCmd)
}

func runUsersList(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
	names, err := e.store.Store.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tCREATED\tMONTHS")
	for _, name := range names {
		user, err := e.store.Store.Load(ctx, name)
		if err != nil {
			fmt.Fprintf(tw, "%s\t?\t?\n", name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", user.Username, user.CreatedAt.Format("2006-01-02"), len(user.Months))
	}
	return tw.Flush()
}

func runUsersDelete(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	username := args[0]
	if !flagYes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete %q and all of their data? [y/N] ", username)
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}
	if err := e.store.Store.Delete(ctx, username); err != nil {
		return err
	}
	e.ledger.InvalidateHistory(ctx, username)
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", username)
	return nil
}
