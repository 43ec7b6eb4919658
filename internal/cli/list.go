package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Run:   runList,
	}

	cmd.Flags().StringP("owner", "o", "", "Filter by owner")
	cmd.Flags().StringP("sector", "s", "", "Filter by sector (primary or additional)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Int("offset", 0, "Skip this many")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	sec, _ := cmd.Flags().GetString("sector")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a := openApp()
	defer a.Close()

	p := store.ScanParams{Owner: owner, Limit: limit, Offset: offset, Newest: true}
	if sec != "" {
		s, err := model.ParseSector(sec)
		if err != nil {
			exitErr("list", err)
		}
		p.Sector = s
	}
	memories, err := a.store.Scan(cmd.Context(), p)
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Println(m.ID)
		}
		return
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	printJSON(memories)
}
