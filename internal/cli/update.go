package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <id> [content]",
		Short: "Edit a memory",
		Long:  "Replace content or tags, or merge metadata. New content is re-classified and re-embedded.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().StringP("tags", "t", "", "Replace tags (comma-separated)")
	cmd.Flags().String("meta", "", "JSON metadata merged into the existing map")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	var p engine.UpdateParams
	if len(args) > 1 {
		content := readContent(args[1:])
		p.Content = &content
	}
	if cmd.Flags().Changed("tags") {
		tagsStr, _ := cmd.Flags().GetString("tags")
		tags := splitTags(tagsStr)
		p.Tags = &tags
	}
	metaStr, _ := cmd.Flags().GetString("meta")
	p.Metadata = parseMeta(metaStr)

	if p.Content == nil && p.Tags == nil && p.Metadata == nil {
		exitErr("update", fmt.Errorf("nothing to update: give content, --tags or --meta"))
	}

	a := openApp()
	defer a.Close()

	mem, err := a.eng.Update(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	printJSON(mem)
}
