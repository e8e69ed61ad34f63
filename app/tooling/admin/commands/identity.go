// Package commands contains the admin subcommands.
package commands

import (
	"fmt"

	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

// GenKey generates the node identity keypair if one does not exist.
func GenKey() *cobra.Command {
	var keyPath string

	cmd := cobra.Command{
		Use:   "genkey",
		Short: "generate the node identity key",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := peer.LoadIdentity(keyPath)
			if err != nil {
				return err
			}

			fmt.Printf("node id: %s\n", identity.NodeID)
			fmt.Printf("pubkey:  %s\n", identity.PublicKeyHex())
			fmt.Printf("address: %s\n", signature.AddressFromPublicKey(&identity.PrivateKey.PublicKey))

			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key-path", "zdata/node.key", "path of the identity key file")

	return &cmd
}

// ShowID prints the identity derived from an existing key file.
func ShowID() *cobra.Command {
	var keyPath string

	cmd := cobra.Command{
		Use:   "showid",
		Short: "print the node id for an existing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := peer.LoadIdentity(keyPath)
			if err != nil {
				return err
			}

			fmt.Println(identity.NodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key-path", "zdata/node.key", "path of the identity key file")

	return &cmd
}
