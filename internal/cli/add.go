package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/sector-memory/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a memory",
		Long:  "Classify, embed and store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runAdd,
	}

	cmd.Flags().StringP("owner", "o", "", "Owning user")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("meta", "", `JSON metadata, e.g. {"sector":"emotional","salience":0.8}`)
	cmd.Flags().String("sector", "", "Force the primary sector (shorthand for meta sector)")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	tagsStr, _ := cmd.Flags().GetString("tags")
	metaStr, _ := cmd.Flags().GetString("meta")
	sec, _ := cmd.Flags().GetString("sector")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	meta := parseMeta(metaStr)
	if sec != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["sector"] = sec
	}

	a := openApp()
	defer a.Close()

	res, err := a.eng.Add(cmd.Context(), engine.AddParams{
		Content:  content,
		Tags:     splitTags(tagsStr),
		Metadata: meta,
		Owner:    owner,
	})
	if err != nil {
		exitErr("add", err)
	}
	printJSON(res)
}
