package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/remote"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the sources available to the agent service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		sources, err := remote.NewClient(cfg.Agent).ListSources(ctx)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources available.")
			return nil
		}
		for _, source := range sources {
			if source.ID != "" {
				fmt.Printf("%s\t%s\n", source.ID, source.Name)
			} else {
				fmt.Println(source.Name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
