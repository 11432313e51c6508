package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lvdashuaibi/roundvote/internal/credential"
)

var keygenOut string

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "keys", "密钥输出目录")
	rootCmd.AddCommand(keygenCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the ES256 signing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := credential.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := credential.WriteKeyPairPEM(keys, keygenOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已生成 %s/%s 和 %s/%s\n",
			keygenOut, credential.PrivateKeyFile, keygenOut, credential.PublicKeyFile)
		return nil
	},
}
