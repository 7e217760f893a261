package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/internal/store"
)

var (
	tasksStatus string
	tasksType   string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List queued and finished tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.ListTasks(ctx, store.TaskFilter{
			Status: model.TaskStatus(tasksStatus),
			Type:   model.TaskType(tasksType),
			Limit:  tasksLimit,
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tERROR")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Type, t.Status, t.CreatedAt.Format("2006-01-02 15:04:05"), t.Error)
		}
		return tw.Flush()
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show one task with its args and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		task, err := st.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task not found: %s", args[0])
		}

		out, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status")
	tasksCmd.Flags().StringVar(&tasksType, "type", "", "filter by type")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 50, "maximum rows")
	tasksCmd.AddCommand(taskGetCmd)
	rootCmd.AddCommand(tasksCmd)
}
