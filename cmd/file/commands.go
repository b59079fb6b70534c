package file

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	statCmd = &cobra.Command{
		Use:   "stat [url]",
		Short: "Prints size, flags and modification time of a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := xrdClient.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			kind := "file"
			if info.IsDir() {
				kind = "directory"
			}
			fmt.Printf("%-10s: %s\n", "Id", info.ID)
			fmt.Printf("%-10s: %s\n", "Type", kind)
			fmt.Printf("%-10s: %d\n", "Size", info.Size)
			fmt.Printf("%-10s: %#x\n", "Flags", info.Flags)
			fmt.Printf("%-10s: %s\n", "Modified", info.ModTime.Format(time.RFC3339))
			return nil
		},
	}
	lsCmd = &cobra.Command{
		Use:   "ls [url]",
		Short: "Lists the entries of a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := xrdClient.Dirlist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Println(e)
			}
			return nil
		},
	}
	catCmd = &cobra.Command{
		Use:   "cat [url]",
		Short: "Writes the content of a remote file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := xrdClient.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			blockSize, _ := cmd.Flags().GetInt("block-size")
			out := bufio.NewWriterSize(os.Stdout, blockSize)
			if _, err := io.CopyBuffer(out, f, make([]byte, blockSize)); err != nil {
				return err
			}
			return out.Flush()
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping [url]",
		Short: "Measures the round trip time to a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			for i := 0; i < count; i++ {
				rtt, err := xrdClient.Ping(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("ping %d: %s\n", i+1, rtt)
			}
			return nil
		},
	}
)

func init() {
	catCmd.Flags().Int("block-size", 64*1024, "size of a single read request in bytes")
	pingCmd.Flags().Int("count", 1, "number of pings to send")
}
