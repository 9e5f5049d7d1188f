package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecoverCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Обработать незавершённые WAL-транзакции",
		Long: `Доводит до конца или откатывает операции, прерванные сбоем.
Та же процедура выполняется автоматически при запуске serve.
Не запускайте при работающем сервере.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}

			report, err := a.recoverWAL()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.Pending == 0 {
				fmt.Fprintln(out, styleSuccess.Render("Незавершённых транзакций нет"))
				return nil
			}
			fmt.Fprintln(out, styleTitle.Render("WAL recovery"))
			keyValue(out, "pending", report.Pending)
			keyValue(out, "completed", report.Completed)
			keyValue(out, "rolled_back", report.RolledBack)
			keyValue(out, "failed", report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("не удалось обработать %d транзакций, подробности в логе", report.Failed)
			}
			return nil
		},
	}
}
