package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corralproject/corral/pkg/client"
)

func init() {
	for _, cmd := range []*cobra.Command{quotaCmd, runtimeCmd, allocCmd, syncCmd} {
		cmd.Flags().String("server", "http://localhost:5000", "Corral server base URL")
	}
	allocCmd.Flags().StringP("user", "u", "", "Username to allocate as (defaults to $USER)")
	allocCmd.Flags().StringP("password", "p", "", "Password (prompted when omitted)")
	allocCmd.Flags().IntP("gpus", "n", 1, "Number of devices to request")
}

var quotaCmd = &cobra.Command{
	Use:   "quota [username]",
	Short: "Show remaining GPU-hours",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		username := ""
		if len(args) == 1 {
			username = args[0]
		}

		balances, err := client.NewClient(server).Quota(username)
		if err != nil {
			return err
		}

		users := make([]string, 0, len(balances))
		for user := range balances {
			users = append(users, user)
		}
		sort.Strings(users)
		for _, user := range users {
			fmt.Printf("%-10s %.2f hours\n", user+":", balances[user])
		}
		return nil
	},
}

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Show current cluster occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		rt, err := client.NewClient(server).Runtime()
		if err != nil {
			return err
		}

		hostnames := make([]string, 0, len(rt))
		for hostname := range rt {
			hostnames = append(hostnames, hostname)
		}
		sort.Strings(hostnames)
		for _, hostname := range hostnames {
			fmt.Println(hostname)
			devs := rt[hostname]
			ids := make([]int, 0, len(devs))
			for id := range devs {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			for _, id := range ids {
				occupants := "free"
				if len(devs[id]) > 0 {
					occupants = strings.Join(devs[id], ", ")
				}
				fmt.Printf("  gpu %d: %s\n", id, occupants)
			}
		}
		return nil
	},
}

var allocCmd = &cobra.Command{
	Use:   "alloc",
	Short: "Request GPU devices, preempting exhausted users if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		username, _ := cmd.Flags().GetString("user")
		password, _ := cmd.Flags().GetString("password")
		count, _ := cmd.Flags().GetInt("gpus")

		if username == "" {
			username = os.Getenv("USER")
		}
		if username == "" {
			return fmt.Errorf("no username given and $USER is unset")
		}
		if password == "" {
			fmt.Print("Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		result, err := client.NewClient(server).Alloc(username, password, count)
		if err != nil {
			return err
		}

		fmt.Printf("host: %s\n", result.Hostname)
		fmt.Printf("gpus: %v\n", result.GPUIDs)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger an immediate cluster resync",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		if err := client.NewClient(server).Sync(); err != nil {
			return err
		}
		fmt.Println("sync done")
		return nil
	},
}
