package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/owlog/pkg/bus/owserver"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the sensors behind a controller",
	Long: `Discover connects to one owserver, enumerates its bus including
coupler branches and prints every device with the readings owlog would
sample. Use the output to write the devices section of the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		read, _ := cmd.Flags().GetBool("read")
		level, _ := cmd.Flags().GetString("log-level")

		if level == "" {
			level = string(log.WarnLevel)
		}
		log.Init(log.Config{Level: log.ParseLevel(level), Output: os.Stderr})

		ctx, cancel := context.WithTimeout(context.Background(), 4*timeout)
		defer cancel()

		addr := net.JoinHostPort(host, strconv.Itoa(port))
		client, err := owserver.Dial(ctx, addr, timeout)
		if err != nil {
			return err
		}
		defer client.Close()

		sensors, err := client.Discover(ctx)
		if err != nil {
			return fmt.Errorf("failed to discover sensors: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFAMILY\tPATH\tREADINGS")
		for _, s := range sensors {
			if read && s.Active() {
				if err := client.Read(ctx, s); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
				}
			}

			var readings []string
			for _, r := range s.UsedReadings() {
				entry := r.Name
				if r.Current {
					entry += fmt.Sprintf("=%g%s", r.Value, r.Unit)
				}
				readings = append(readings, entry)
			}
			if len(readings) == 0 {
				readings = []string{"-"}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Family, s.Path, strings.Join(readings, ","))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d device(s) on %s\n", len(sensors), addr)
		return nil
	},
}

func init() {
	discoverCmd.Flags().String("host", "localhost", "owserver host")
	discoverCmd.Flags().Int("port", 4304, "owserver port")
	discoverCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	discoverCmd.Flags().Bool("read", false, "Read every sensor once")
}
