package file

import (
	"os"

	"github.com/ValentinKolb/xrdc/cmd/util"
	"github.com/ValentinKolb/xrdc/rpc/auth"
	"github.com/ValentinKolb/xrdc/rpc/client"
	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	manager   transport.IConnectionManager
	xrdClient *client.Client
	config    *common.ClientConfig

	// FileCommands represents the file command group
	FileCommands = &cobra.Command{
		Use:                "file",
		Short:              "Perform operations on remote files",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: teardownClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add client flags to the file commands
	util.SetupClientFlags(FileCommands)

	// Add subcommands
	FileCommands.AddCommand(statCmd)
	FileCommands.AddCommand(lsCmd)
	FileCommands.AddCommand(catCmd)
	FileCommands.AddCommand(pingCmd)
	FileCommands.AddCommand(perfTestCmd)
}

// setupClient creates the connection manager and the client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	config, err = util.GetClientConfig()
	if err != nil {
		return err
	}

	manager, err = util.GetConnectionManager(*config)
	if err != nil {
		return err
	}

	xrdClient = client.NewClient(manager, *config, auth.DefaultRegistry())
	return nil
}

// teardownClient closes all connections and optionally prints the metrics
func teardownClient(_ *cobra.Command, _ []string) error {
	var err error
	if manager != nil {
		err = manager.Close()
	}
	if viper.GetBool("metrics") {
		util.WriteMetrics(os.Stderr)
	}
	return err
}
