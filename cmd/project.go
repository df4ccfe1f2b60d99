package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/romforge/go-romkitchen/internal/workspace"
)

var projectSplit bool

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, list and delete firmware projects",
}

var projectNewCmd = &cobra.Command{
	Use:   "new <id>",
	Short: "Create a new project",
	Long: `Create a new project directory under the projects base directory.

By default the project uses a single merged tree. With --split the project
keeps pristine inputs (Origin), the editable working set (Source) and
regenerated images (Output) in separate trees.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := projectManager()
		if err != nil {
			return err
		}
		layout := workspace.LayoutSingle
		if projectSplit {
			layout = workspace.LayoutSplit
		}
		project, err := manager.Create(args[0], layout)
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s (%s layout) at %s\n", project.ID, project.Layout, project.Root)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := projectManager()
		if err != nil {
			return err
		}
		ids, err := manager.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No projects.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := projectManager()
		if err != nil {
			return err
		}
		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted project %s\n", args[0])
		return nil
	},
}

func init() {
	projectNewCmd.Flags().BoolVar(&projectSplit, "split", false, "separate Origin/Source/Output trees")

	projectCmd.AddCommand(projectNewCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}
