package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/research-worker/internal/model"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Add a task to the queue",
}

var (
	researchCompanyID     string
	researchName          string
	researchSourceURL     string
	researchContent       string
	researchForceLevels   bool
	researchForceContacts bool
)

var enqueueResearchCmd = &cobra.Command{
	Use:   "research",
	Short: "Enqueue a company research task",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs := model.ResearchArgs{
			CompanyID:     researchCompanyID,
			Name:          researchName,
			SourceURL:     researchSourceURL,
			Content:       researchContent,
			ForceLevels:   researchForceLevels,
			ForceContacts: researchForceContacts,
		}
		if err := taskArgs.Validate(); err != nil {
			return err
		}
		return enqueue(cmd, model.TaskResearch, map[string]any{
			"company_id":     taskArgs.CompanyID,
			"name":           taskArgs.Name,
			"source_url":     taskArgs.SourceURL,
			"content":        taskArgs.Content,
			"force_levels":   taskArgs.ForceLevels,
			"force_contacts": taskArgs.ForceContacts,
		})
	},
}

var (
	mergeCanonicalID string
	mergeDuplicateID string
)

var enqueueMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Enqueue an entity merge task",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs := model.MergeArgs{CanonicalID: mergeCanonicalID, DuplicateID: mergeDuplicateID}
		if err := taskArgs.Validate(); err != nil {
			return err
		}
		return enqueue(cmd, model.TaskMergeEntities, map[string]any{
			"canonical_id": taskArgs.CanonicalID,
			"duplicate_id": taskArgs.DuplicateID,
		})
	},
}

var enqueueImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Enqueue a bulk lead import task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd, model.TaskBulkImport, map[string]any{})
	},
}

var enqueueScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Enqueue a mailbox scan task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd, model.TaskScanMailbox, map[string]any{})
	},
}

func enqueue(cmd *cobra.Command, taskType model.TaskType, args map[string]any) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.CreateTask(ctx, taskType, args)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s task %s\n", task.Type, task.ID)
	return nil
}

func init() {
	enqueueResearchCmd.Flags().StringVar(&researchCompanyID, "company-id", "", "existing company id")
	enqueueResearchCmd.Flags().StringVar(&researchName, "name", "", "company name")
	enqueueResearchCmd.Flags().StringVar(&researchSourceURL, "url", "", "source URL")
	enqueueResearchCmd.Flags().StringVar(&researchContent, "content", "", "free text to research")
	enqueueResearchCmd.Flags().BoolVar(&researchForceLevels, "force-levels", false, "run comparable-role data even for placeholder names")
	enqueueResearchCmd.Flags().BoolVar(&researchForceContacts, "force-contacts", false, "run contact discovery regardless of fit")

	enqueueMergeCmd.Flags().StringVar(&mergeCanonicalID, "canonical", "", "company id that survives")
	enqueueMergeCmd.Flags().StringVar(&mergeDuplicateID, "duplicate", "", "company id to absorb")

	enqueueCmd.AddCommand(enqueueResearchCmd, enqueueMergeCmd, enqueueImportCmd, enqueueScanCmd)
	rootCmd.AddCommand(enqueueCmd)
}
