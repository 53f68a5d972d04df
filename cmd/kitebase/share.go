package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/sharing"
)

var (
	shareRead   bool
	shareEdit   bool
	shareDelete bool
	shareGroup  bool
	shareReason string
)

var shareCmd = &cobra.Command{
	Use:   "share <recordKID> <granteeKID>",
	Short: "Grant a user or group rights on a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		ctx := context.Background()
		recordKID, granteeKID := kid.KID(args[0]), kid.KID(args[1])
		rights := sharing.Rights{Read: shareRead, Edit: shareEdit, Delete: shareDelete}
		if shareGroup {
			err = env.Sharing.ShareRecordWithGroup(ctx, recordKID, granteeKID, rights, shareReason)
		} else {
			err = env.Sharing.ShareRecord(ctx, recordKID, granteeKID, rights, shareReason)
		}
		if err != nil {
			return err
		}
		fmt.Printf("shared %s with %s (read=%v edit=%v delete=%v)\n",
			recordKID, granteeKID, shareRead, shareEdit, shareDelete)
		return nil
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare <recordKID> <granteeKID>",
	Short: "Revoke a grantee's rights on a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		recordKID, granteeKID := kid.KID(args[0]), kid.KID(args[1])
		if err := env.Sharing.UnshareRecord(context.Background(), recordKID, granteeKID); err != nil {
			return err
		}
		fmt.Printf("unshared %s from %s\n", recordKID, granteeKID)
		return nil
	},
}

func init() {
	shareCmd.Flags().BoolVar(&shareRead, "read", true, "Grant read")
	shareCmd.Flags().BoolVar(&shareEdit, "edit", false, "Grant edit")
	shareCmd.Flags().BoolVar(&shareDelete, "delete", false, "Grant delete")
	shareCmd.Flags().BoolVar(&shareGroup, "group", false, "Grantee is a group")
	shareCmd.Flags().StringVar(&shareReason, "reason", "", "Reason recorded on the grant")
}
