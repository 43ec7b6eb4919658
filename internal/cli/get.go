package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("vectors", false, "Include the sector vectors")

	RootCmd.AddCommand(cmd)
}

type memoryWithVectors struct {
	*model.Memory
	Vectors []model.SectorVector `json:"vectors"`
}

func runGet(cmd *cobra.Command, args []string) {
	withVectors, _ := cmd.Flags().GetBool("vectors")

	a := openApp()
	defer a.Close()

	mem, err := a.eng.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	if !withVectors {
		printJSON(mem)
		return
	}
	vecs, err := a.store.Vectors(cmd.Context(), mem.ID)
	if err != nil {
		exitErr("get vectors", err)
	}
	printJSON(memoryWithVectors{Memory: mem, Vectors: vecs})
}
